package relay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event names carried in the envelope, client→server and server→client.
const (
	EventRegister      = "register"
	EventRegisterAck   = "register_ack"
	EventDirectMessage = "direct_message"
	EventCreateRoom    = "create_room"
	EventCreateRoomAck = "create_room_ack"
	EventJoinRoom      = "join_room"
	EventJoinRoomAck   = "join_room_ack"
	EventApproveJoin   = "approve_join"
	EventLeaveRoom     = "leave_room"
	EventRoomMessage   = "room_message"
	EventJoinRequest   = "join_request"
	EventRoomMembers   = "room_members"
	EventRoomClosed    = "room_closed"
)

// Join statuses reported through join_room_ack.
const (
	StatusJoined  = "joined"
	StatusPending = "pending"
)

// Envelope is the wire frame: an event name plus an event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client→server payloads. Missing or malformed fields never raise errors;
// the handlers treat them as no-ops.

// RegisterPayload binds an identity to the sending connection.
type RegisterPayload struct {
	Identity string `json:"identity"`
}

// DirectMessagePayload asks the relay to forward text to one identity.
type DirectMessagePayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// JoinRoomPayload requests membership in a room.
type JoinRoomPayload struct {
	RoomCode string `json:"roomCode"`
}

// ApproveJoinPayload admits a pending identity (admin only).
type ApproveJoinPayload struct {
	RoomCode string `json:"roomCode"`
	Identity string `json:"identity"`
}

// LeaveRoomPayload removes the sending connection from a room.
type LeaveRoomPayload struct {
	RoomCode string `json:"roomCode"`
}

// RoomMessagePayload broadcasts text to the other members of a room.
type RoomMessagePayload struct {
	RoomCode string `json:"roomCode"`
	Text     string `json:"text"`
}

// Server→client payloads.

// RegisterAck echoes the connection id assigned to the registered client.
type RegisterAck struct {
	ConnectionID string `json:"connectionId"`
}

// DirectDelivery carries a relayed direct message. From is always derived
// from the registry on the server side, never taken from client input.
type DirectDelivery struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// CreateRoomAck answers create_room with either a fresh code or an error.
type CreateRoomAck struct {
	RoomCode string `json:"roomCode,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JoinRoomAck answers join_room and also notifies an approved requester.
type JoinRoomAck struct {
	RoomCode string `json:"roomCode,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JoinRequest tells a room admin that an identity wants in.
type JoinRequest struct {
	RoomCode string `json:"roomCode"`
	Identity string `json:"identity"`
}

// RoomMembersUpdate carries the full member-identity list after a change.
type RoomMembersUpdate struct {
	RoomCode string   `json:"roomCode"`
	Members  []string `json:"members"`
}

// RoomDelivery carries a relayed room message to one member.
type RoomDelivery struct {
	RoomCode string `json:"roomCode"`
	From     string `json:"from"`
	Text     string `json:"text"`
}

// RoomClosed tells remaining members their room was destroyed.
type RoomClosed struct {
	RoomCode string `json:"roomCode"`
}

// EncodeEnvelope marshals an event name and payload into a wire frame.
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// DecodeEnvelope unmarshals a wire frame. The payload stays raw; callers
// decode it into the variant matching the event name.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decoding envelope: missing event name")
	}
	return env, nil
}

// NormalizeIdentity canonicalizes a client-supplied identity: trimmed and
// lower-cased. Applied on every inbound use, never trusted raw.
func NormalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeRoomCode canonicalizes a client-supplied room code: trimmed and
// upper-cased, matching the generated alphabet.
func NormalizeRoomCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
