package relay

import (
	"sync"
	"sync/atomic"
)

// Stats tracks connection and relay counters for the health and admin
// endpoints. Connection limits are enforced here so the check and the
// increment happen atomically.
type Stats struct {
	activeConnections atomic.Int64
	totalConnections  atomic.Int64
	totalEvents       atomic.Int64
	droppedEvents     atomic.Int64

	ipConnections map[string]int
	ipMu          sync.Mutex
}

// NewStats creates a zeroed Stats.
func NewStats() *Stats {
	return &Stats{
		ipConnections: make(map[string]int),
	}
}

// TryAcquire atomically checks the global and per-IP connection limits and
// claims a slot. Returns "" on success, or the limit that was hit.
func (s *Stats) TryAcquire(ip string, maxGlobal, maxPerIP int) string {
	s.ipMu.Lock()
	defer s.ipMu.Unlock()

	if int(s.activeConnections.Load()) >= maxGlobal {
		return "max_connections"
	}
	if s.ipConnections[ip] >= maxPerIP {
		return "max_connections_per_ip"
	}

	s.activeConnections.Add(1)
	s.totalConnections.Add(1)
	s.ipConnections[ip]++
	return ""
}

// Release frees the slot claimed by TryAcquire.
func (s *Stats) Release(ip string) {
	s.activeConnections.Add(-1)
	s.ipMu.Lock()
	s.ipConnections[ip]--
	if s.ipConnections[ip] <= 0 {
		delete(s.ipConnections, ip)
	}
	s.ipMu.Unlock()
}

// CountEvent records one processed inbound event.
func (s *Stats) CountEvent() {
	s.totalEvents.Add(1)
}

// CountDropped records one ignored inbound frame (malformed or unknown).
func (s *Stats) CountDropped() {
	s.droppedEvents.Add(1)
}

// ActiveConnections returns the current number of live connections.
func (s *Stats) ActiveConnections() int {
	return int(s.activeConnections.Load())
}

// ConnectionsForIP returns the live connection count for one IP.
func (s *Stats) ConnectionsForIP(ip string) int {
	s.ipMu.Lock()
	defer s.ipMu.Unlock()
	return s.ipConnections[ip]
}

// ActiveIPConnections returns a copy of the per-IP connection table.
func (s *Stats) ActiveIPConnections() map[string]int {
	s.ipMu.Lock()
	defer s.ipMu.Unlock()
	out := make(map[string]int, len(s.ipConnections))
	for ip, n := range s.ipConnections {
		out[ip] = n
	}
	return out
}

// TotalConnections returns the number of connections handled since start.
func (s *Stats) TotalConnections() int64 {
	return s.totalConnections.Load()
}

// TotalEvents returns the number of inbound events processed since start.
func (s *Stats) TotalEvents() int64 {
	return s.totalEvents.Load()
}

// DroppedEvents returns the number of ignored inbound frames since start.
func (s *Stats) DroppedEvents() int64 {
	return s.droppedEvents.Load()
}
