package logring

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func entry(level slog.Level, msg string) Entry {
	return Entry{Time: time.Now(), Level: level, Message: msg}
}

func TestRingAddAndLen(t *testing.T) {
	r := NewRing(5)

	if r.Len() != 0 {
		t.Errorf("fresh ring Len() = %d, want 0", r.Len())
	}

	r.Add(entry(slog.LevelInfo, "one"))
	r.Add(entry(slog.LevelInfo, "two"))

	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRingWrapsOverwritingOldest(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		r.Add(entry(slog.LevelInfo, fmt.Sprintf("msg-%d", i)))
	}

	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want capacity 3", r.Len())
	}

	got := r.Recent(0, slog.LevelDebug)
	want := []string{"msg-5", "msg-4", "msg-3"}
	if len(got) != len(want) {
		t.Fatalf("Recent returned %d entries, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Message != w {
			t.Errorf("Recent[%d] = %q, want %q", i, got[i].Message, w)
		}
	}
}

func TestRingRecentLimitAndLevel(t *testing.T) {
	r := NewRing(10)
	r.Add(entry(slog.LevelDebug, "d1"))
	r.Add(entry(slog.LevelInfo, "i1"))
	r.Add(entry(slog.LevelWarn, "w1"))
	r.Add(entry(slog.LevelError, "e1"))

	warns := r.Recent(0, slog.LevelWarn)
	if len(warns) != 2 || warns[0].Message != "e1" || warns[1].Message != "w1" {
		t.Errorf("Recent(warn) = %+v, want e1 then w1", warns)
	}

	limited := r.Recent(1, slog.LevelDebug)
	if len(limited) != 1 || limited[0].Message != "e1" {
		t.Errorf("Recent(1) = %+v, want just e1", limited)
	}
}

func TestRingZeroCapacity(t *testing.T) {
	r := NewRing(0) // clamped to 1
	r.Add(entry(slog.LevelInfo, "only"))
	r.Add(entry(slog.LevelInfo, "newest"))

	got := r.Recent(0, slog.LevelDebug)
	if len(got) != 1 || got[0].Message != "newest" {
		t.Errorf("Recent = %+v, want just newest", got)
	}
}

func TestHandlerCapturesRecords(t *testing.T) {
	ring := NewRing(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), ring))

	logger.Info("hello", "conn", "c1")
	logger.Warn("trouble")

	got := ring.Recent(0, slog.LevelDebug)
	if len(got) != 2 {
		t.Fatalf("captured %d entries, want 2", len(got))
	}
	if got[0].Message != "trouble" || got[0].Level != slog.LevelWarn {
		t.Errorf("newest entry = %+v", got[0])
	}
	if got[1].Message != "hello" {
		t.Errorf("oldest entry = %+v", got[1])
	}
	if got[1].Attrs["conn"] != "c1" {
		t.Errorf("attrs = %v, want conn=c1", got[1].Attrs)
	}
}

func TestHandlerWithAttrsAndGroup(t *testing.T) {
	ring := NewRing(10)
	base := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), ring))

	base.With("component", "relay").Info("attached")
	base.WithGroup("room").Info("created", "code", "ABC234")

	got := ring.Recent(0, slog.LevelDebug)
	if len(got) != 2 {
		t.Fatalf("captured %d entries, want 2", len(got))
	}
	if got[1].Attrs["component"] != "relay" {
		t.Errorf("With attrs not captured: %v", got[1].Attrs)
	}
	if got[0].Attrs["room.code"] != "ABC234" {
		t.Errorf("group prefix missing: %v", got[0].Attrs)
	}
}

func TestHandlerRespectsWrappedLevel(t *testing.T) {
	ring := NewRing(10)
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewHandler(inner, ring))

	logger.Debug("too quiet")
	logger.Error("loud")

	got := ring.Recent(0, slog.LevelDebug)
	if len(got) != 1 || got[0].Message != "loud" {
		t.Errorf("captured %+v, want only the error record", got)
	}
}
