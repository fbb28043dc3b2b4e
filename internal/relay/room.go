package relay

import (
	"crypto/rand"
)

// codeAlphabet is the room-code character set. Visually ambiguous characters
// (0/O, 1/I) are excluded so codes survive handwriting and being read aloud.
// Exactly 32 characters, so a random byte maps onto it without modulo bias.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength is the number of characters in a generated room code.
const DefaultCodeLength = 6

// randomCode samples n characters from codeAlphabet.
func randomCode(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// nothing sensible to relay at that point.
		panic("relay: reading random bytes: " + err.Error())
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// Room is one admin-gated chat room. A room exists only while its admin
// connection does; the admin is always a member. Rooms are owned by the
// Relay, which serializes all access; Room itself carries no lock.
type Room struct {
	Code        string
	AdminConnID string
	Members     map[string]struct{} // connection ids
	Pending     map[string]struct{} // identities awaiting approval
}

func newRoom(code, adminConnID string) *Room {
	return &Room{
		Code:        code,
		AdminConnID: adminConnID,
		Members:     map[string]struct{}{adminConnID: {}},
		Pending:     make(map[string]struct{}),
	}
}

// isMember reports whether the connection is in the member set.
func (rm *Room) isMember(connID string) bool {
	_, ok := rm.Members[connID]
	return ok
}

// memberConnIDs returns a snapshot of the member set. Broadcasts iterate
// the snapshot so that concurrent membership changes cannot alter an
// in-flight recipient list.
func (rm *Room) memberConnIDs() []string {
	ids := make([]string, 0, len(rm.Members))
	for id := range rm.Members {
		ids = append(ids, id)
	}
	return ids
}

// RoomInfo is a read-only view of a room for the admin API and health
// endpoint. Message content never appears here; rooms hold no messages.
type RoomInfo struct {
	Code         string `json:"code"`
	Members      int    `json:"members"`
	Pending      int    `json:"pending"`
	AdminPresent bool   `json:"admin_present"`
}
