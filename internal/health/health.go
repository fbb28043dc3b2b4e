package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/WhyShailesh/whisper-rooms/internal/relay"
)

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status            string   `json:"status"`
	Uptime            string   `json:"uptime"`
	ActiveConnections int      `json:"active_connections"`
	ActiveSessions    int      `json:"active_sessions"`
	ActiveRooms       int      `json:"active_rooms"`
	Version           string   `json:"version,omitempty"`
	Timestamp         string   `json:"timestamp"`
	Details           *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	TotalConnections int64   `json:"total_connections"`
	TotalEvents      int64   `json:"total_events"`
	DroppedEvents    int64   `json:"dropped_events"`
	MemoryMB         float64 `json:"memory_mb"`
}

// Handler serves the health check endpoint.
// The health listener binds to loopback (separate from the relay listener)
// so local monitoring tools (systemd, Prometheus, Nagios) can poll it
// without being exposed to relay clients.
type Handler struct {
	startTime time.Time
	relay     *relay.Relay
	stats     *relay.Stats
	draining  func() bool
	version   string
	detailed  bool
}

// NewHandler creates a new health check handler. draining reports whether
// the server has begun shutting down; the status degrades accordingly.
func NewHandler(r *relay.Relay, stats *relay.Stats, draining func() bool, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		relay:     r,
		stats:     stats,
		draining:  draining,
		version:   version,
		detailed:  detailed,
	}
}

// ServeHTTP handles health check requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpCode := http.StatusOK
	if h.draining != nil && h.draining() {
		status = "draining"
		httpCode = http.StatusServiceUnavailable
	}

	resp := Response{
		Status:            status,
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		ActiveConnections: h.stats.ActiveConnections(),
		ActiveSessions:    h.relay.Sessions().Len(),
		ActiveRooms:       h.relay.RoomCount(),
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			TotalConnections: h.stats.TotalConnections(),
			TotalEvents:      h.stats.TotalEvents(),
			DroppedEvents:    h.stats.DroppedEvents(),
			MemoryMB:         float64(memStats.Alloc) / 1024 / 1024,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}
