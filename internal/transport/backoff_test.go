package transport

import (
	"math/rand"
	"testing"
	"time"

	"github.com/loomkit/loom/internal/testutil/testlog"
)

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	testlog.Start(t)

	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	if got := cfg.Delay(1, nil); got != 100*time.Millisecond {
		t.Fatalf("attempt 1 = %v", got)
	}
	if got := cfg.Delay(2, nil); got != 200*time.Millisecond {
		t.Fatalf("attempt 2 = %v", got)
	}
	if got := cfg.Delay(10, nil); got != time.Second {
		t.Fatalf("attempt 10 = %v, want capped at 1s", got)
	}
	if got := (BackoffConfig{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero config = %v, want 0", got)
	}
}

func TestBackoffDelayJitterStaysBounded(t *testing.T) {
	testlog.Start(t)

	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(1))
	for attempt := 2; attempt < 8; attempt++ {
		got := cfg.Delay(attempt, rng)
		if got < 0 || got > 1500*time.Millisecond {
			t.Fatalf("attempt %d = %v, out of jitter bounds", attempt, got)
		}
	}
}
