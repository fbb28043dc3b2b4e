package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/WhyShailesh/whisper-rooms/internal/logging"
)

// statusResponse is the JSON body for GET /api/v1/status.
type statusResponse struct {
	Uptime            string  `json:"uptime"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	ActiveConnections int     `json:"active_connections"`
	ActiveSessions    int     `json:"active_sessions"`
	ActiveRooms       int     `json:"active_rooms"`
	TotalConnections  int64   `json:"total_connections"`
	TotalEvents       int64   `json:"total_events"`
	DroppedEvents     int64   `json:"dropped_events"`
	MemoryMB          float64 `json:"memory_mb"`
	Goroutines        int     `json:"goroutines"`
	Version           string  `json:"version"`
	BuildTime         string  `json:"build_time"`
	GitCommit         string  `json:"git_commit"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(a.deps.StartTime)

	resp := statusResponse{
		Uptime:            uptime.Round(time.Second).String(),
		UptimeSeconds:     uptime.Seconds(),
		ActiveConnections: a.deps.Stats.ActiveConnections(),
		ActiveSessions:    a.deps.Relay.Sessions().Len(),
		ActiveRooms:       a.deps.Relay.RoomCount(),
		TotalConnections:  a.deps.Stats.TotalConnections(),
		TotalEvents:       a.deps.Stats.TotalEvents(),
		DroppedEvents:     a.deps.Stats.DroppedEvents(),
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
		Version:           a.deps.Version,
		BuildTime:         a.deps.BuildTime,
		GitCommit:         a.deps.GitCommit,
	}

	writeJSON(w, http.StatusOK, resp)
}

// connectionEntry represents a per-IP connection entry.
type connectionEntry struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

func (a *API) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	ipMap := a.deps.Stats.ActiveIPConnections()
	entries := make([]connectionEntry, 0, len(ipMap))
	for ip, count := range ipMap {
		entries = append(entries, connectionEntry{IP: ip, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})

	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Relay.Rooms())
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	minLevel := logging.ParseLevel(r.URL.Query().Get("level"))

	writeJSON(w, http.StatusOK, a.deps.Ring.Recent(limit, minLevel))
}

// configResponse is the JSON body for GET /api/v1/config.
type configResponse struct {
	Reloadable configReloadable `json:"reloadable"`
	ReadOnly   configReadOnly   `json:"read_only"`
}

type configReloadable struct {
	LogLevel            string `json:"log_level"`
	MaxConnections      int    `json:"max_connections"`
	MaxConnectionsPerIP int    `json:"max_connections_per_ip"`
	MaxMessageSize      int64  `json:"max_message_size"`
	MaxRoomMembers      int    `json:"max_room_members"`
	MaxRoomPending      int    `json:"max_room_pending"`
	RateLimitEnabled    bool   `json:"rate_limit_enabled"`
	ConnectionsPerMin   int    `json:"connections_per_minute"`
	MessagesPerSecond   int    `json:"messages_per_second"`
	AuthTokenSet        bool   `json:"auth_token_set"`
}

type configReadOnly struct {
	ListenAddress  string `json:"listen_address"`
	HealthAddress  string `json:"health_address"`
	RoomCodeLength int    `json:"room_code_length"`
	TLSEnabled     bool   `json:"tls_enabled"`
}

func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := a.deps.GetConfig()
	resp := configResponse{
		Reloadable: configReloadable{
			LogLevel:            cfg.Logging.Level,
			MaxConnections:      cfg.Security.MaxConnections,
			MaxConnectionsPerIP: cfg.Security.MaxConnectionsPerIP,
			MaxMessageSize:      cfg.Server.MaxMessageSize,
			MaxRoomMembers:      cfg.Rooms.MaxMembers,
			MaxRoomPending:      cfg.Rooms.MaxPending,
			RateLimitEnabled:    cfg.Security.RateLimit.Enabled,
			ConnectionsPerMin:   cfg.Security.RateLimit.ConnectionsPerMinute,
			MessagesPerSecond:   cfg.Security.RateLimit.MessagesPerSecond,
			AuthTokenSet:        cfg.Security.AuthToken != "",
		},
		ReadOnly: configReadOnly{
			ListenAddress:  cfg.Server.ListenAddress,
			HealthAddress:  cfg.Health.ListenAddress,
			RoomCodeLength: cfg.Rooms.CodeLength,
			TLSEnabled:     cfg.Server.TLS.Enabled,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.deps.ReloadFunc == nil {
		http.Error(w, "reload not available", http.StatusNotImplemented)
		return
	}
	if err := a.deps.ReloadFunc(); err != nil {
		slog.Error("config reload via admin API failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing admin API response", "error", err)
	}
}
