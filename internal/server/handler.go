package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/WhyShailesh/whisper-rooms/internal/config"
	"github.com/WhyShailesh/whisper-rooms/internal/metrics"
	"github.com/WhyShailesh/whisper-rooms/internal/relay"
	"github.com/WhyShailesh/whisper-rooms/internal/security"
)

// Handler accepts WebSocket connections from chat clients and feeds their
// events into the relay. One goroutine per connection reads and dispatches;
// the relay serializes all state mutations internally.
type Handler struct {
	Relay       *relay.Relay
	Stats       *relay.Stats
	RateLimiter *security.RateLimiter
	Metrics     *metrics.Metrics // optional, nil if metrics disabled
	ShutdownCtx context.Context  // cancelled on server shutdown

	// drainCtx is cancelled when the server begins draining connections.
	// Active connections watch this to send graceful close frames.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	// mu protects cfg and allowlist during hot-reload
	mu        sync.RWMutex
	cfg       *config.Config
	allowlist *security.NetworkAllowlist
}

// NewHandler creates a new relay handler.
func NewHandler(cfg *config.Config, r *relay.Relay, stats *relay.Stats, rl *security.RateLimiter, shutdownCtx context.Context) *Handler {
	drainCtx, drainCancel := context.WithCancel(context.Background())
	return &Handler{
		Relay:       r,
		Stats:       stats,
		RateLimiter: rl,
		ShutdownCtx: shutdownCtx,
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
		cfg:         cfg,
		allowlist:   security.NewNetworkAllowlist(cfg.Security.AllowedNetworks),
	}
}

// StartDrain signals all active connections to begin graceful shutdown.
// Each connection's drain watcher sends a WebSocket close frame.
func (h *Handler) StartDrain() {
	h.drainCancel()
}

// Draining reports whether drain has started.
func (h *Handler) Draining() bool {
	select {
	case <-h.drainCtx.Done():
		return true
	default:
		return false
	}
}

// GetConfig returns the current config (thread-safe for hot-reload).
func (h *Handler) GetConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// UpdateConfig swaps the config (called on SIGHUP).
func (h *Handler) UpdateConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
	h.allowlist = security.NewNetworkAllowlist(cfg.Security.AllowedNetworks)
}

func (h *Handler) getAllowlist() *security.NetworkAllowlist {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.allowlist
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.GetConfig()

	// 1. Network allowlist
	if al := h.getAllowlist(); !al.Allowed(r.RemoteAddr) {
		slog.Warn("rejected connection outside allowed networks", "remote_addr", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// 2. Parse client IP (needed for rate limiting and connection tracking)
	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		slog.Error("failed to parse remote address", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// 3. Optional auth token check (header first, query param fallback).
	// This authenticates the client application, not the chat identity;
	// identities carry no credentials.
	if cfg.Security.AuthToken != "" {
		token := security.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token")
			if token != "" {
				slog.Warn("auth token provided via query parameter; use Authorization header instead", "client_ip", clientIP)
			}
		}
		if !security.TokenMatch(token, cfg.Security.AuthToken) {
			slog.Warn("rejected invalid auth token", "client_ip", clientIP)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	// 4. Rate limit check
	if cfg.Security.RateLimit.Enabled && h.RateLimiter != nil && !h.RateLimiter.Allow(clientIP) {
		slog.Warn("rate limit exceeded", "client_ip", clientIP)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	// Plain HTTP requests have no meaning here; health and admin live on
	// their own listener.
	if !isWebSocketUpgrade(r) {
		http.Error(w, "WebSocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	// Reject new connections once draining has started.
	if h.Draining() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	// 5. Connection limits (atomic check-and-increment to prevent TOCTOU race)
	if reason := h.Stats.TryAcquire(clientIP, cfg.Security.MaxConnections, cfg.Security.MaxConnectionsPerIP); reason != "" {
		if reason == "max_connections" {
			slog.Warn("max connections reached", "current", h.Stats.ActiveConnections(), "max", cfg.Security.MaxConnections)
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		} else {
			slog.Warn("max connections per IP reached", "client_ip", clientIP, "current", h.Stats.ConnectionsForIP(clientIP))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		}
		return
	}
	if h.Metrics != nil {
		h.Metrics.ConnectionsTotal.Inc()
		h.Metrics.ActiveConnections.Inc()
	}

	// 6. Accept the WebSocket connection
	ws, err := websocket.Accept(w, r, acceptOptions(cfg.Server.AllowedOrigins))
	if err != nil {
		h.Stats.Release(clientIP)
		if h.Metrics != nil {
			h.Metrics.ActiveConnections.Dec()
			h.Metrics.ErrorsTotal.WithLabelValues("accept_failure").Inc()
		}
		slog.Error("failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(cfg.Server.MaxMessageSize)

	// 7. Wire the connection into the relay.
	// Use ShutdownCtx (not r.Context()) as the parent: when ServeHTTP
	// returns, r.Context() is cancelled, which races with the HTTP
	// transport's background goroutine and can close the underlying TCP
	// connection while the read loop still runs.
	connCtx, connCancel := context.WithCancel(h.ShutdownCtx)
	defer connCancel()

	connID := uuid.NewString()
	conn := newWSConn(connID, ws, connCtx, cfg.Server.WriteTimeout)
	h.Relay.Attach(conn)

	slog.Info("connection established", "conn", connID, "client_ip", clientIP)

	// Keepalive pings detect dead connections. Ping must run concurrently
	// with Read per coder/websocket docs.
	if cfg.Server.PingInterval > 0 {
		go h.keepAlive(connCtx, ws, cfg.Server.PingInterval, cfg.Server.PongTimeout, connCancel)
	}

	// Guard close with sync.Once: context cancellation can trigger
	// internal closes in coder/websocket concurrently with our cleanup.
	var closeOnce sync.Once
	closeConn := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() { ws.Close(code, reason) })
	}

	// Drain watcher: when the server starts draining, send a graceful close
	// frame. This causes Read in the dispatch loop to return, triggering
	// normal teardown.
	go func() {
		select {
		case <-h.drainCtx.Done():
			closeConn(websocket.StatusGoingAway, "server shutting down")
		case <-connCtx.Done():
			// Connection already closing for another reason
		}
	}()

	// Per-connection inbound message rate limiter
	var msgLimiter *rate.Limiter
	if cfg.Security.RateLimit.Enabled && cfg.Security.RateLimit.MessagesPerSecond > 0 {
		msgLimiter = rate.NewLimiter(rate.Limit(cfg.Security.RateLimit.MessagesPerSecond), cfg.Security.RateLimit.MessagesPerSecond)
	}

	start := time.Now()
	h.readLoop(connCtx, conn, ws, msgLimiter)

	// Teardown: the disconnect cascade runs exactly once, before the slot
	// is released.
	connCancel()
	h.Relay.Detach(connID)
	closeConn(websocket.StatusNormalClosure, "")
	h.Stats.Release(clientIP)
	if h.Metrics != nil {
		h.Metrics.ActiveConnections.Dec()
	}
	slog.Info("connection closed", "conn", connID, "client_ip", clientIP, "duration", time.Since(start).String())
}

// readLoop reads frames until the connection closes and dispatches each
// decoded event into the relay.
func (h *Handler) readLoop(ctx context.Context, conn *wsConn, ws *websocket.Conn, msgLimiter *rate.Limiter) {
	for {
		// Wait for the next frame using only the connection context (no
		// read timeout). Keepalive pings detect dead connections and
		// cancel ctx; a read deadline would kill idle-but-alive clients.
		_, frame, err := ws.Read(ctx)
		if err != nil {
			slog.Debug("read loop stopped", "conn", conn.id, "reason", err)
			return
		}

		if msgLimiter != nil {
			if err := msgLimiter.Wait(ctx); err != nil {
				slog.Debug("message rate limit", "conn", conn.id, "reason", err)
				return
			}
		}

		h.dispatch(conn, frame)
	}
}

// dispatch decodes one inbound frame and routes it to the matching relay
// handler. Malformed frames and unknown events are counted and ignored;
// nothing a client sends is ever fatal to the connection or the server.
func (h *Handler) dispatch(conn *wsConn, frame []byte) {
	env, err := relay.DecodeEnvelope(frame)
	if err != nil {
		h.dropFrame(conn.id, "malformed_envelope", err)
		return
	}

	h.Stats.CountEvent()
	if h.Metrics != nil {
		h.Metrics.EventsTotal.WithLabelValues(env.Event).Inc()
	}

	switch env.Event {
	case relay.EventRegister:
		var p relay.RegisterPayload
		if h.decode(conn.id, env, &p) {
			h.Relay.HandleRegister(conn, p)
		}
	case relay.EventDirectMessage:
		var p relay.DirectMessagePayload
		if h.decode(conn.id, env, &p) {
			h.Relay.HandleDirectMessage(conn, p)
		}
	case relay.EventCreateRoom:
		h.Relay.HandleCreateRoom(conn)
	case relay.EventJoinRoom:
		var p relay.JoinRoomPayload
		if h.decode(conn.id, env, &p) {
			h.Relay.HandleJoinRoom(conn, p)
		}
	case relay.EventApproveJoin:
		var p relay.ApproveJoinPayload
		if h.decode(conn.id, env, &p) {
			h.Relay.HandleApproveJoin(conn, p)
		}
	case relay.EventLeaveRoom:
		var p relay.LeaveRoomPayload
		if h.decode(conn.id, env, &p) {
			h.Relay.HandleLeaveRoom(conn, p)
		}
	case relay.EventRoomMessage:
		var p relay.RoomMessagePayload
		if h.decode(conn.id, env, &p) {
			h.Relay.HandleRoomMessage(conn, p)
		}
	default:
		h.dropFrame(conn.id, "unknown_event", nil)
	}
}

// decode unmarshals an envelope payload into v. A missing or malformed
// payload counts as a dropped frame and the event becomes a no-op.
func (h *Handler) decode(connID string, env relay.Envelope, v any) bool {
	if len(env.Data) == 0 {
		h.dropFrame(connID, "missing_payload", nil)
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		h.dropFrame(connID, "malformed_payload", err)
		return false
	}
	return true
}

func (h *Handler) dropFrame(connID, reason string, err error) {
	h.Stats.CountDropped()
	if h.Metrics != nil {
		h.Metrics.DroppedTotal.WithLabelValues(reason).Inc()
	}
	slog.Debug("ignored inbound frame", "conn", connID, "reason", reason, "error", err)
}

// keepAlive sends periodic WebSocket pings to detect dead connections.
// If a ping fails or times out, it closes the connection and cancels the
// connection context.
func (h *Handler) keepAlive(ctx context.Context, ws *websocket.Conn, interval, pongTimeout time.Duration, onFail context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pongTimeout)
			err := ws.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("keepalive ping failed, closing connection", "error", err)
				ws.Close(websocket.StatusGoingAway, "keepalive timeout")
				onFail()
				return
			}
		}
	}
}

// acceptOptions maps the allowed_origins config onto coder/websocket
// accept options. A "*" entry disables origin verification entirely.
func acceptOptions(allowedOrigins []string) *websocket.AcceptOptions {
	for _, o := range allowedOrigins {
		if o == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: allowedOrigins}
}

// isWebSocketUpgrade returns true if the request is a WebSocket upgrade per RFC 6455 §4.1.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		headerContains(r.Header, "Connection", "upgrade")
}

// headerContains checks whether the header key contains the given value
// as a comma-separated token (case-insensitive).
func headerContains(h http.Header, key, value string) bool {
	for _, v := range h[http.CanonicalHeaderKey(key)] {
		for _, s := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(s), value) {
				return true
			}
		}
	}
	return false
}
