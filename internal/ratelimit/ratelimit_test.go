package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestKeyedRateLimiter_Allow(t *testing.T) {
	tests := []struct {
		name     string
		rps      float64
		burst    int
		calls    int
		wantPass int
	}{
		{name: "burst allows initial requests", rps: 1, burst: 3, calls: 3, wantPass: 3},
		{name: "exceeding burst blocks", rps: 1, burst: 2, calls: 5, wantPass: 2},
		{name: "single burst single call", rps: 1, burst: 1, calls: 1, wantPass: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := New(tt.rps, tt.burst)

			passed := 0
			for i := 0; i < tt.calls; i++ {
				if rl.Allow("test") {
					passed++
				}
			}

			if passed != tt.wantPass {
				t.Errorf("got %d passed, want %d", passed, tt.wantPass)
			}
		})
	}
}

func TestKeyedRateLimiter_IndependentKeys(t *testing.T) {
	rl := New(1, 1)

	if !rl.Allow("key-a") {
		t.Error("first request for key-a should pass")
	}
	if rl.Allow("key-a") {
		t.Error("second request for key-a should be limited")
	}
	if !rl.Allow("key-b") {
		t.Error("key-b has its own bucket and should pass")
	}
}

func TestKeyedRateLimiter_WaitRespectsContext(t *testing.T) {
	rl := New(0.1, 1) // one token every 10s after the burst
	if !rl.Allow("slow") {
		t.Fatal("burst token should be available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx, "slow"); err == nil {
		t.Error("expected Wait to fail once the context deadline passes")
	}
}
