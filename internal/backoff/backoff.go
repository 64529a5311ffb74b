// Package backoff computes the delay applied between delivery attempts.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// jitterFraction is the half-width of the uniform jitter window applied to the
// capped exponential delay. The final delay never exceeds cap * (1 + jitterFraction).
const jitterFraction = 0.10

// Delay maps an attempt number to a bounded, jittered duration. Growth is
// exponential in the attempt number, saturates at cap, and carries a uniform
// +/-10% jitter so synchronized consumers do not retry in lockstep. The result
// is rounded to the nearest millisecond and floored at zero.
func Delay(attempt int, base, cap time.Duration) time.Duration {
	return delayWith(attempt, base, cap, rand.Float64)
}

// delayWith exists so tests can pin the jitter roll.
func delayWith(attempt int, base, cap time.Duration, roll func() float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	exponential := float64(base) * math.Pow(2, float64(attempt))
	capped := exponential
	if cap > 0 && capped > float64(cap) {
		capped = float64(cap)
	}

	// roll() in [0,1) -> jitter factor in [1-j, 1+j).
	factor := 1 + jitterFraction*(2*roll()-1)
	jittered := capped * factor

	d := time.Duration(jittered).Round(time.Millisecond)
	if d < 0 {
		return 0
	}
	return d
}
