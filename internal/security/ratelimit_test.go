package security

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 3)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst was refused", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst was allowed")
	}
}

func TestRateLimiterPerIPIsolation(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	defer rl.Stop()

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first IP refused")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("first IP allowed beyond burst")
	}
	// A different IP has its own bucket.
	if !rl.Allow("10.0.0.2") {
		t.Error("second IP refused")
	}
}

func TestRateLimiterUpdateRate(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	defer rl.Stop()

	rl.Allow("10.0.0.1") // exhaust the bucket
	if rl.Allow("10.0.0.1") {
		t.Fatal("allowed beyond burst before update")
	}

	// Updating clears existing buckets, so the IP starts fresh.
	rl.UpdateRate(rate.Limit(10), 5)
	if !rl.Allow("10.0.0.1") {
		t.Error("refused after rate update cleared the buckets")
	}
}

func TestRateLimiterMaxEntries(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	defer rl.Stop()
	rl.maxEntries = 2

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	// Table is full; unknown IPs are refused outright.
	if rl.Allow("10.0.0.3") {
		t.Error("new IP allowed past the entry cap")
	}
	// Known IPs keep their buckets.
	if rl.Allow("10.0.0.1") {
		t.Error("known IP allowed beyond burst") // bucket already empty
	}
}
