package relay

import (
	"encoding/json"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"event":"register","data":{"identity":"Alice"}}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Event != EventRegister {
		t.Errorf("event = %q, want %q", env.Event, EventRegister)
	}
	var p RegisterPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Identity != "Alice" {
		t.Errorf("identity = %q, want Alice", p.Identity)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{"not json", `hello`},
		{"missing event", `{"data":{}}`},
		{"empty event", `{"event":"","data":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeEnvelope([]byte(tc.frame)); err == nil {
				t.Errorf("DecodeEnvelope(%q) succeeded, want error", tc.frame)
			}
		})
	}
}

func TestDecodeEnvelopeNoData(t *testing.T) {
	// create_room carries no payload at all.
	env, err := DecodeEnvelope([]byte(`{"event":"create_room"}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Event != EventCreateRoom || len(env.Data) != 0 {
		t.Errorf("env = %+v, want create_room with empty data", env)
	}
}

func TestEncodeEnvelope(t *testing.T) {
	frame, err := EncodeEnvelope(EventRegisterAck, RegisterAck{ConnectionID: "c1"})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	env, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Event != EventRegisterAck {
		t.Errorf("event = %q", env.Event)
	}
	if string(env.Data) != `{"connectionId":"c1"}` {
		t.Errorf("data = %s", env.Data)
	}
}

func TestNormalizeIdentity(t *testing.T) {
	cases := map[string]string{
		"Alice":      "alice",
		"  BOB  ":    "bob",
		"":           "",
		"   ":        "",
		"carol-2026": "carol-2026",
	}
	for in, want := range cases {
		if got := NormalizeIdentity(in); got != want {
			t.Errorf("NormalizeIdentity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeRoomCode(t *testing.T) {
	cases := map[string]string{
		"abc234":     "ABC234",
		"  XY23ZZ  ": "XY23ZZ",
		"":           "",
	}
	for in, want := range cases {
		if got := NormalizeRoomCode(in); got != want {
			t.Errorf("NormalizeRoomCode(%q) = %q, want %q", in, got, want)
		}
	}
}
