package transport

import (
	"math/rand"
	"time"
)

// BackoffConfig shapes reconnect delays.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultBackoff is the dial retry policy used when none is configured.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Delay returns the wait before retry attempt n (1-based). Growth is
// geometric from InitialDelay, capped at MaxDelay; with Jitter the result
// is scaled into [0.5d, 1.5d) to spread reconnect storms.
func (c BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if c.InitialDelay <= 0 {
		return 0
	}
	mult := c.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	d := c.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			d = c.MaxDelay
			break
		}
	}
	if c.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		d = time.Duration(float64(d) * f)
	}
	return d
}
