// Package logring keeps the most recent log records in memory so the
// admin API can serve them without touching log files.
package logring

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is a single captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   slog.Level     `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Ring is a fixed-capacity circular buffer of log entries.
// Thread-safe via sync.RWMutex.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	wrapped bool
}

// NewRing creates a ring holding up to capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{entries: make([]Entry, capacity)}
}

// Add appends an entry, overwriting the oldest once the ring is full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	r.entries[r.next] = e
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.wrapped = true
	}
	r.mu.Unlock()
}

// Len returns the number of entries currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *Ring) lenLocked() int {
	if r.wrapped {
		return len(r.entries)
	}
	return r.next
}

// Recent returns up to limit entries at or above minLevel, newest first.
// limit <= 0 means no limit.
func (r *Ring) Recent(limit int, minLevel slog.Level) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.lenLocked()
	var out []Entry
	for i := 1; i <= n; i++ {
		if limit > 0 && len(out) == limit {
			break
		}
		e := r.entries[(r.next-i+len(r.entries))%len(r.entries)]
		if e.Level >= minLevel {
			out = append(out, e)
		}
	}
	return out
}

// Handler is a slog.Handler that captures records into a Ring and forwards
// them to a wrapped handler.
type Handler struct {
	next   slog.Handler
	ring   *Ring
	attrs  []slog.Attr
	prefix string
}

// NewHandler wraps next so every record also lands in ring.
func NewHandler(next slog.Handler, ring *Ring) *Handler {
	return &Handler{next: next, ring: ring}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	e := Entry{Time: rec.Time, Level: rec.Level, Message: rec.Message}

	attrs := make(map[string]any, len(h.attrs)+rec.NumAttrs())
	for _, a := range h.attrs {
		attrs[h.prefix+a.Key] = a.Value.Any()
	}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[h.prefix+a.Key] = a.Value.Any()
		return true
	})
	if len(attrs) > 0 {
		e.Attrs = attrs
	}

	h.ring.Add(e)
	return h.next.Handle(ctx, rec)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{next: h.next.WithAttrs(attrs), ring: h.ring, attrs: merged, prefix: h.prefix}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{next: h.next.WithGroup(name), ring: h.ring, attrs: h.attrs, prefix: h.prefix + name + "."}
}
