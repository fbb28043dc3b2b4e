package relay

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/WhyShailesh/whisper-rooms/internal/metrics"
)

// Conn is the transport-side handle the relay delivers events to. Send is
// best-effort and fire-and-forget: implementations swallow write failures,
// since a peer that vanished mid-broadcast is not an error here.
type Conn interface {
	ID() string
	Send(event string, payload any)
}

// Options configures a Relay.
type Options struct {
	CodeLength int // room code characters; DefaultCodeLength if 0
	MaxMembers int // per-room member cap; 0 = unlimited
	MaxPending int // per-room pending cap; 0 = unlimited

	Metrics *metrics.Metrics // optional, nil if metrics disabled

	// GenerateCode overrides room-code generation. Tests use this to force
	// collisions; production leaves it nil.
	GenerateCode func(length int) string
}

// Relay routes ephemeral messages between live connections and runs the
// room membership state machine. It owns the room store and the connection
// table; every mutation runs to completion under one lock, so event
// processing is linearizable no matter how many connection goroutines
// feed it. Nothing here is ever persisted.
type Relay struct {
	sessions *SessionRegistry

	mu    sync.RWMutex
	rooms map[string]*Room
	conns map[string]Conn

	codeLength int
	maxMembers int
	maxPending int
	genCode    func(int) string
	metrics    *metrics.Metrics
}

// New creates a Relay with an empty registry and room store.
func New(opts Options) *Relay {
	if opts.CodeLength <= 0 {
		opts.CodeLength = DefaultCodeLength
	}
	gen := opts.GenerateCode
	if gen == nil {
		gen = randomCode
	}
	return &Relay{
		sessions:   NewSessionRegistry(),
		rooms:      make(map[string]*Room),
		conns:      make(map[string]Conn),
		codeLength: opts.CodeLength,
		maxMembers: opts.MaxMembers,
		maxPending: opts.MaxPending,
		genCode:    gen,
		metrics:    opts.Metrics,
	}
}

// outbound is one pending best-effort send, collected under the lock and
// delivered after it is released.
type outbound struct {
	conn    Conn
	event   string
	payload any
}

func deliver(outs []outbound) {
	for _, o := range outs {
		if o.conn != nil {
			o.conn.Send(o.event, o.payload)
		}
	}
}

// Attach adds a freshly accepted connection to the relay's table.
func (r *Relay) Attach(c Conn) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	r.mu.Unlock()
}

// Detach runs the disconnect cascade for a closed connection: the identity
// binding is removed (only if it still points at this connection), the
// connection leaves every room it was a member of (destroying rooms it
// administered), and its identity is dropped from any pending set. Pending
// removal is silent; the admin simply stops seeing that request honored.
func (r *Relay) Detach(connID string) {
	identity, _ := r.sessions.Unregister(connID)

	r.mu.Lock()
	delete(r.conns, connID)

	var outs []outbound
	for code, room := range r.rooms {
		if identity != "" {
			delete(room.Pending, identity)
		}
		if !room.isMember(connID) {
			continue
		}
		delete(room.Members, connID)
		outs = append(outs, r.memberListLocked(room)...)
		if room.AdminConnID == connID {
			for _, id := range room.memberConnIDs() {
				outs = append(outs, outbound{r.conns[id], EventRoomClosed, RoomClosed{RoomCode: code}})
			}
			delete(r.rooms, code)
			if r.metrics != nil {
				r.metrics.RoomsActive.Dec()
			}
			slog.Info("room closed, admin disconnected", "room", code)
		}
	}
	r.mu.Unlock()

	deliver(outs)
}

// HandleRegister binds the normalized identity to the connection and acks
// with the connection id. A blank identity is ignored with no ack. When an
// identity re-registers from a new connection, the old connection stays
// open but no longer receives anything addressed to that identity.
func (r *Relay) HandleRegister(c Conn, p RegisterPayload) {
	identity := NormalizeIdentity(p.Identity)
	if identity == "" {
		return
	}
	r.sessions.Register(identity, c.ID())
	c.Send(EventRegisterAck, RegisterAck{ConnectionID: c.ID()})
}

// HandleDirectMessage forwards text to the connection currently bound to
// the target identity. Unregistered sender, unknown recipient, or empty
// text all drop the message silently: at-most-once, no queue, no receipt.
func (r *Relay) HandleDirectMessage(c Conn, p DirectMessagePayload) {
	to := NormalizeIdentity(p.To)
	from, registered := r.sessions.IdentityOf(c.ID())
	if to == "" || !registered || p.Text == "" {
		r.drop("invalid_direct")
		return
	}

	targetID, ok := r.sessions.Resolve(to)
	if !ok {
		r.drop("recipient_offline")
		return
	}

	r.mu.RLock()
	target := r.conns[targetID]
	r.mu.RUnlock()
	if target == nil {
		r.drop("recipient_offline")
		return
	}

	target.Send(EventDirectMessage, DirectDelivery{From: from, Text: p.Text})
	if r.metrics != nil {
		r.metrics.RelayedTotal.WithLabelValues("direct").Inc()
	}
}

// HandleCreateRoom creates a room with the caller as sole member and admin,
// generating a fresh code and retrying on collision. Callers without a
// bound identity get an error ack.
func (r *Relay) HandleCreateRoom(c Conn) {
	if _, registered := r.sessions.IdentityOf(c.ID()); !registered {
		c.Send(EventCreateRoomAck, CreateRoomAck{Error: "not registered"})
		return
	}

	r.mu.Lock()
	code := r.genCode(r.codeLength)
	for _, exists := r.rooms[code]; exists; _, exists = r.rooms[code] {
		code = r.genCode(r.codeLength)
	}
	r.rooms[code] = newRoom(code, c.ID())
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RoomsCreatedTotal.Inc()
		r.metrics.RoomsActive.Inc()
	}
	slog.Info("room created", "room", code)
	c.Send(EventCreateRoomAck, CreateRoomAck{RoomCode: code})
}

// HandleJoinRoom puts the caller's identity on the room's pending list and
// notifies the admin. Joining a room the connection already belongs to acks
// joined immediately; an unknown code acks an error.
func (r *Relay) HandleJoinRoom(c Conn, p JoinRoomPayload) {
	code := NormalizeRoomCode(p.RoomCode)
	identity, registered := r.sessions.IdentityOf(c.ID())
	if !registered || code == "" {
		c.Send(EventJoinRoomAck, JoinRoomAck{Error: "invalid request"})
		return
	}

	r.mu.Lock()
	room, ok := r.rooms[code]
	if !ok {
		r.mu.Unlock()
		c.Send(EventJoinRoomAck, JoinRoomAck{Error: "room not found"})
		return
	}
	if room.isMember(c.ID()) {
		r.mu.Unlock()
		c.Send(EventJoinRoomAck, JoinRoomAck{RoomCode: code, Status: StatusJoined})
		return
	}
	if _, pending := room.Pending[identity]; !pending && r.maxPending > 0 && len(room.Pending) >= r.maxPending {
		r.mu.Unlock()
		r.drop("pending_full")
		return
	}
	room.Pending[identity] = struct{}{}
	admin := r.conns[room.AdminConnID]
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.JoinRequestsTotal.Inc()
	}
	if admin != nil {
		admin.Send(EventJoinRequest, JoinRequest{RoomCode: code, Identity: identity})
	}
	c.Send(EventJoinRoomAck, JoinRoomAck{RoomCode: code, Status: StatusPending})
}

// HandleApproveJoin admits a pending identity into the room. Anything that
// disqualifies the call (caller is not the admin, unknown room, identity
// not resolvable to a live connection) is ignored without a reply, so
// probing approve_join leaks nothing about rooms or their admins.
func (r *Relay) HandleApproveJoin(c Conn, p ApproveJoinPayload) {
	code := NormalizeRoomCode(p.RoomCode)
	identity := NormalizeIdentity(p.Identity)
	if code == "" || identity == "" {
		return
	}

	r.mu.Lock()
	room, ok := r.rooms[code]
	if !ok || room.AdminConnID != c.ID() {
		r.mu.Unlock()
		return
	}
	targetID, ok := r.sessions.Resolve(identity)
	if !ok {
		r.mu.Unlock()
		return
	}
	if !room.isMember(targetID) && r.maxMembers > 0 && len(room.Members) >= r.maxMembers {
		r.mu.Unlock()
		r.drop("room_full")
		return
	}
	delete(room.Pending, identity)
	room.Members[targetID] = struct{}{}
	target := r.conns[targetID]
	outs := r.memberListLocked(room)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.JoinApprovalsTotal.Inc()
	}
	if target != nil {
		target.Send(EventJoinRoomAck, JoinRoomAck{RoomCode: code, Status: StatusJoined})
	}
	deliver(outs)
	slog.Debug("join approved", "room", code, "identity", identity)
}

// HandleLeaveRoom removes the connection from the room's member set and
// broadcasts the updated member list. If the admin leaves, the room is
// destroyed and every remaining member is told it closed.
func (r *Relay) HandleLeaveRoom(c Conn, p LeaveRoomPayload) {
	code := NormalizeRoomCode(p.RoomCode)

	r.mu.Lock()
	room, ok := r.rooms[code]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(room.Members, c.ID())
	outs := r.memberListLocked(room)
	if room.AdminConnID == c.ID() {
		for _, id := range room.memberConnIDs() {
			outs = append(outs, outbound{r.conns[id], EventRoomClosed, RoomClosed{RoomCode: code}})
		}
		delete(r.rooms, code)
		if r.metrics != nil {
			r.metrics.RoomsActive.Dec()
		}
		slog.Info("room closed, admin left", "room", code)
	}
	r.mu.Unlock()

	deliver(outs)
}

// HandleRoomMessage broadcasts text to every member of the room except the
// sender. Unknown room or a sender outside the member set drops silently.
func (r *Relay) HandleRoomMessage(c Conn, p RoomMessagePayload) {
	code := NormalizeRoomCode(p.RoomCode)
	from, registered := r.sessions.IdentityOf(c.ID())
	if code == "" || !registered || p.Text == "" {
		r.drop("invalid_room_message")
		return
	}

	r.mu.RLock()
	room, ok := r.rooms[code]
	if !ok || !room.isMember(c.ID()) {
		r.mu.RUnlock()
		r.drop("not_a_member")
		return
	}
	targets := make([]Conn, 0, len(room.Members))
	for id := range room.Members {
		if id != c.ID() {
			targets = append(targets, r.conns[id])
		}
	}
	r.mu.RUnlock()

	msg := RoomDelivery{RoomCode: code, From: from, Text: p.Text}
	for _, t := range targets {
		if t != nil {
			t.Send(EventRoomMessage, msg)
		}
	}
	if r.metrics != nil {
		r.metrics.RelayedTotal.WithLabelValues("room").Inc()
	}
}

// memberListLocked builds room_members sends for every current member.
// Caller holds r.mu. Members whose identity is no longer resolvable from
// the connection index are omitted from the list but still receive it.
func (r *Relay) memberListLocked(room *Room) []outbound {
	ids := room.memberConnIDs()
	members := make([]string, 0, len(ids))
	for _, id := range ids {
		if identity, ok := r.sessions.IdentityOf(id); ok {
			members = append(members, identity)
		}
	}
	sort.Strings(members)

	update := RoomMembersUpdate{RoomCode: room.Code, Members: members}
	outs := make([]outbound, 0, len(ids))
	for _, id := range ids {
		outs = append(outs, outbound{r.conns[id], EventRoomMembers, update})
	}
	return outs
}

func (r *Relay) drop(reason string) {
	if r.metrics != nil {
		r.metrics.DroppedTotal.WithLabelValues(reason).Inc()
	}
}

// UpdateLimits applies reloaded room caps. Existing rooms over a lowered
// cap keep their members; the cap gates new admissions only.
func (r *Relay) UpdateLimits(maxMembers, maxPending int) {
	r.mu.Lock()
	r.maxMembers = maxMembers
	r.maxPending = maxPending
	r.mu.Unlock()
}

// Sessions exposes the registry for the transport layer and tests.
func (r *Relay) Sessions() *SessionRegistry {
	return r.sessions
}

// RoomCount returns the number of active rooms.
func (r *Relay) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ConnCount returns the number of attached connections.
func (r *Relay) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Rooms returns a sorted read-only snapshot of all active rooms.
func (r *Relay) Rooms() []RoomInfo {
	r.mu.RLock()
	infos := make([]RoomInfo, 0, len(r.rooms))
	for code, room := range r.rooms {
		infos = append(infos, RoomInfo{
			Code:         code,
			Members:      len(room.Members),
			Pending:      len(room.Pending),
			AdminPresent: room.isMember(room.AdminConnID),
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Code < infos[j].Code })
	return infos
}
