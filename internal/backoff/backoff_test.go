package backoff

import (
	"testing"
	"time"
)

const (
	testBase = time.Second
	testCap  = 60 * time.Second
)

func TestDelayNeverExceedsCapPlusJitter(t *testing.T) {
	capF := float64(testCap)
	limit := time.Duration(capF * 1.1)
	for attempt := 0; attempt <= 20; attempt++ {
		for i := 0; i < 200; i++ {
			d := Delay(attempt, testBase, testCap)
			if d < 0 {
				t.Fatalf("attempt %d: negative delay %s", attempt, d)
			}
			if d > limit {
				t.Fatalf("attempt %d: delay %s exceeds cap*1.1 (%s)", attempt, d, limit)
			}
		}
	}
}

func TestDelayExpectationGrowsBeforeSaturation(t *testing.T) {
	// With the jitter pinned to its midpoint the delay equals the capped
	// exponential, which must strictly grow while below the cap.
	mid := func() float64 { return 0.5 }

	prev := delayWith(0, testBase, testCap, mid)
	for attempt := 1; attempt < 6; attempt++ {
		d := delayWith(attempt, testBase, testCap, mid)
		if d <= prev {
			t.Fatalf("attempt %d: expected delay %s to grow past %s", attempt, d, prev)
		}
		prev = d
	}
}

func TestDelayJitterWindow(t *testing.T) {
	lo := delayWith(2, testBase, testCap, func() float64 { return 0 })
	hi := delayWith(2, testBase, testCap, func() float64 { return 0.999999 })

	want := 4 * time.Second
	if lo != time.Duration(float64(want)*0.9).Round(time.Millisecond) {
		t.Fatalf("expected lower bound %s, got %s", time.Duration(float64(want)*0.9), lo)
	}
	if hi > time.Duration(float64(want)*1.1) {
		t.Fatalf("upper bound %s exceeds +10%% of %s", hi, want)
	}
}

func TestDelaySaturatesAtCap(t *testing.T) {
	mid := func() float64 { return 0.5 }
	d := delayWith(30, testBase, testCap, mid)
	if d != testCap {
		t.Fatalf("expected saturation at %s, got %s", testCap, d)
	}
}

func TestDelayZeroBase(t *testing.T) {
	if d := Delay(3, 0, testCap); d != 0 {
		t.Fatalf("expected zero delay for zero base, got %s", d)
	}
}
