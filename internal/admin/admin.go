// Package admin serves the operator API on the loopback health listener.
// It exposes runtime state (connections, rooms, logs) and config reload;
// message content is never available here, since the relay retains none.
package admin

import (
	"net/http"
	"time"

	"github.com/WhyShailesh/whisper-rooms/internal/config"
	"github.com/WhyShailesh/whisper-rooms/internal/logring"
	"github.com/WhyShailesh/whisper-rooms/internal/relay"
)

// Dependencies holds all injected dependencies for the admin API.
type Dependencies struct {
	Relay      *relay.Relay
	Stats      *relay.Stats
	Ring       *logring.Ring
	Version    string
	BuildTime  string
	GitCommit  string
	StartTime  time.Time
	ReloadFunc func() error
	GetConfig  func() *config.Config
}

// API provides HTTP handlers for the operator interface.
type API struct {
	deps Dependencies
}

// New creates a new admin API instance.
func New(deps Dependencies) *API {
	return &API{deps: deps}
}

// Handler returns an http.Handler for the /api/v1/ endpoints.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", a.handleStatus)
	mux.HandleFunc("/api/v1/connections", a.handleConnections)
	mux.HandleFunc("/api/v1/rooms", a.handleRooms)
	mux.HandleFunc("/api/v1/logs", a.handleLogs)
	mux.HandleFunc("/api/v1/config", a.handleConfig)
	mux.HandleFunc("/api/v1/reload", a.handleReload)
	return mux
}
