//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/WhyShailesh/whisper-rooms/internal/config"
	"github.com/WhyShailesh/whisper-rooms/internal/health"
	"github.com/WhyShailesh/whisper-rooms/internal/relay"
	"github.com/WhyShailesh/whisper-rooms/internal/server"
)

// newTestSetup starts a relay server plus its health endpoint.
func newTestSetup(t *testing.T, modCfg func(*config.Config)) (*httptest.Server, *httptest.Server, *server.Handler) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.PingInterval = 0
	cfg.Server.WriteTimeout = 5 * time.Second
	cfg.Security.RateLimit.Enabled = false

	if modCfg != nil {
		modCfg(cfg)
	}

	r := relay.New(relay.Options{
		CodeLength: cfg.Rooms.CodeLength,
		MaxMembers: cfg.Rooms.MaxMembers,
		MaxPending: cfg.Rooms.MaxPending,
	})
	stats := relay.NewStats()
	handler := server.NewHandler(cfg, r, stats, nil, context.Background())
	relaySrv := httptest.NewServer(handler)

	healthHandler := health.NewHandler(r, stats, handler.Draining, "test", true)
	healthMux := http.NewServeMux()
	healthMux.Handle("/health", healthHandler)
	healthSrv := httptest.NewServer(healthMux)

	t.Cleanup(func() {
		relaySrv.Close()
		healthSrv.Close()
	})

	return relaySrv, healthSrv, handler
}

// client wraps one WebSocket connection speaking the relay protocol.
type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *client {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })
	return &client{t: t, conn: c}
}

func (c *client) send(ctx context.Context, event string, payload any) {
	c.t.Helper()
	frame, err := relay.EncodeEnvelope(event, payload)
	if err != nil {
		c.t.Fatalf("encode %s: %v", event, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		c.t.Fatalf("write %s: %v", event, err)
	}
}

// recv reads the next frame and decodes its payload into v (if non-nil).
func (c *client) recv(ctx context.Context, wantEvent string, v any) {
	c.t.Helper()
	_, frame, err := c.conn.Read(ctx)
	if err != nil {
		c.t.Fatalf("read (waiting for %s): %v", wantEvent, err)
	}
	env, err := relay.DecodeEnvelope(frame)
	if err != nil {
		c.t.Fatalf("decode: %v", err)
	}
	if env.Event != wantEvent {
		c.t.Fatalf("event = %q, want %q (payload %s)", env.Event, wantEvent, env.Data)
	}
	if v != nil {
		if err := json.Unmarshal(env.Data, v); err != nil {
			c.t.Fatalf("unmarshal %s payload: %v", wantEvent, err)
		}
	}
}

func (c *client) register(ctx context.Context, identity string) {
	c.t.Helper()
	c.send(ctx, relay.EventRegister, relay.RegisterPayload{Identity: identity})
	var ack relay.RegisterAck
	c.recv(ctx, relay.EventRegisterAck, &ack)
	if ack.ConnectionID == "" {
		c.t.Fatal("register ack carries no connection id")
	}
}

func (c *client) createRoom(ctx context.Context) string {
	c.t.Helper()
	c.send(ctx, relay.EventCreateRoom, nil)
	var ack relay.CreateRoomAck
	c.recv(ctx, relay.EventCreateRoomAck, &ack)
	if ack.Error != "" {
		c.t.Fatalf("create_room failed: %s", ack.Error)
	}
	return ack.RoomCode
}

func TestDirectMessageFlow(t *testing.T) {
	relaySrv, _, _ := newTestSetup(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := dial(t, ctx, relaySrv)
	bob := dial(t, ctx, relaySrv)
	alice.register(ctx, "alice")
	bob.register(ctx, "bob")

	alice.send(ctx, relay.EventDirectMessage, relay.DirectMessagePayload{To: "bob", Text: "hello"})

	var msg relay.DirectDelivery
	bob.recv(ctx, relay.EventDirectMessage, &msg)
	if msg.From != "alice" || msg.Text != "hello" {
		t.Errorf("delivery = %+v", msg)
	}
}

func TestRebindRoutesToNewestConnection(t *testing.T) {
	relaySrv, _, _ := newTestSetup(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	old := dial(t, ctx, relaySrv)
	old.register(ctx, "alice")

	fresh := dial(t, ctx, relaySrv)
	fresh.register(ctx, "alice")

	sender := dial(t, ctx, relaySrv)
	sender.register(ctx, "bob")
	sender.send(ctx, relay.EventDirectMessage, relay.DirectMessagePayload{To: "alice", Text: "ping"})

	var msg relay.DirectDelivery
	fresh.recv(ctx, relay.EventDirectMessage, &msg)
	if msg.Text != "ping" {
		t.Errorf("delivery = %+v", msg)
	}

	// The superseded connection must stay silent.
	quiet, quietCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer quietCancel()
	if _, _, err := old.conn.Read(quiet); err == nil {
		t.Error("superseded connection received a frame")
	}
}

func TestRoomLifecycle(t *testing.T) {
	relaySrv, _, _ := newTestSetup(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	admin := dial(t, ctx, relaySrv)
	bob := dial(t, ctx, relaySrv)
	admin.register(ctx, "alice")
	bob.register(ctx, "bob")

	code := admin.createRoom(ctx)

	// Join goes pending; the admin sees the request.
	bob.send(ctx, relay.EventJoinRoom, relay.JoinRoomPayload{RoomCode: code})
	var req relay.JoinRequest
	admin.recv(ctx, relay.EventJoinRequest, &req)
	if req.Identity != "bob" || req.RoomCode != code {
		t.Fatalf("join request = %+v", req)
	}
	var ack relay.JoinRoomAck
	bob.recv(ctx, relay.EventJoinRoomAck, &ack)
	if ack.Status != relay.StatusPending {
		t.Fatalf("join ack = %+v, want pending", ack)
	}

	// Approval: the requester gets joined, then everyone the member list.
	admin.send(ctx, relay.EventApproveJoin, relay.ApproveJoinPayload{RoomCode: code, Identity: "bob"})
	bob.recv(ctx, relay.EventJoinRoomAck, &ack)
	if ack.Status != relay.StatusJoined {
		t.Fatalf("post-approval ack = %+v, want joined", ack)
	}
	var members relay.RoomMembersUpdate
	bob.recv(ctx, relay.EventRoomMembers, &members)
	if len(members.Members) != 2 {
		t.Fatalf("member list = %v, want alice and bob", members.Members)
	}
	admin.recv(ctx, relay.EventRoomMembers, &members)

	// Room broadcast reaches everyone except the sender.
	bob.send(ctx, relay.EventRoomMessage, relay.RoomMessagePayload{RoomCode: code, Text: "hi room"})
	var delivery relay.RoomDelivery
	admin.recv(ctx, relay.EventRoomMessage, &delivery)
	if delivery.From != "bob" || delivery.Text != "hi room" {
		t.Errorf("delivery = %+v", delivery)
	}

	// Admin disconnect destroys the room.
	admin.conn.Close(websocket.StatusNormalClosure, "")
	bob.recv(ctx, relay.EventRoomMembers, &members)
	var closed relay.RoomClosed
	bob.recv(ctx, relay.EventRoomClosed, &closed)
	if closed.RoomCode != code {
		t.Errorf("room_closed = %+v, want %s", closed, code)
	}

	// The code is dead now.
	bob.send(ctx, relay.EventJoinRoom, relay.JoinRoomPayload{RoomCode: code})
	bob.recv(ctx, relay.EventJoinRoomAck, &ack)
	if ack.Error != "room not found" {
		t.Errorf("join after close = %+v, want room not found", ack)
	}
}

func TestUnauthorizedApproveIgnored(t *testing.T) {
	relaySrv, _, _ := newTestSetup(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	admin := dial(t, ctx, relaySrv)
	bob := dial(t, ctx, relaySrv)
	mallory := dial(t, ctx, relaySrv)
	admin.register(ctx, "alice")
	bob.register(ctx, "bob")
	mallory.register(ctx, "mallory")

	code := admin.createRoom(ctx)
	bob.send(ctx, relay.EventJoinRoom, relay.JoinRoomPayload{RoomCode: code})
	admin.recv(ctx, relay.EventJoinRequest, nil)
	bob.recv(ctx, relay.EventJoinRoomAck, nil)

	// Non-admin approval does nothing; bob stays pending.
	mallory.send(ctx, relay.EventApproveJoin, relay.ApproveJoinPayload{RoomCode: code, Identity: "bob"})

	quiet, quietCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	if _, _, err := bob.conn.Read(quiet); err == nil {
		t.Error("pending client received a frame after unauthorized approval")
	}
	quietCancel()

	// The real admin still can.
	admin.send(ctx, relay.EventApproveJoin, relay.ApproveJoinPayload{RoomCode: code, Identity: "bob"})
	var ack relay.JoinRoomAck
	bob.recv(ctx, relay.EventJoinRoomAck, &ack)
	if ack.Status != relay.StatusJoined {
		t.Errorf("ack = %+v, want joined", ack)
	}
}

func TestHealthEndpoint(t *testing.T) {
	relaySrv, healthSrv, _ := newTestSetup(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := dial(t, ctx, relaySrv)
	c.register(ctx, "alice")

	resp, err := http.Get(healthSrv.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
	var body health.Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.ActiveConnections != 1 || body.ActiveSessions != 1 {
		t.Errorf("connections = %d, sessions = %d, want 1 and 1",
			body.ActiveConnections, body.ActiveSessions)
	}
}

func TestDrainRejectsNewAndClosesActive(t *testing.T) {
	relaySrv, healthSrv, handler := newTestSetup(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := dial(t, ctx, relaySrv)
	c.register(ctx, "alice")

	handler.StartDrain()

	// Active connections get a going-away close frame.
	_, _, err := c.conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want going away", websocket.CloseStatus(err))
	}

	// The health endpoint reports draining.
	resp, err := http.Get(healthSrv.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health status = %d during drain, want 503", resp.StatusCode)
	}
}
