package client

import (
	"testing"
	"time"
)

func TestSafetyMarginClamped(t *testing.T) {
	cases := []struct {
		lifetime time.Duration
		want     time.Duration
	}{
		{10 * time.Second, 5 * time.Second},    // lifetime/4 below floor
		{40 * time.Second, 10 * time.Second},   // lifetime/4 in range
		{1000 * time.Second, 60 * time.Second}, // lifetime/4 above ceiling
	}
	for _, tc := range cases {
		if got := safetyMargin(tc.lifetime); got != tc.want {
			t.Errorf("safetyMargin(%v) = %v, want %v", tc.lifetime, got, tc.want)
		}
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Unregistered:  "Unregistered",
		Registering:   "Registering",
		Registered:    "Registered",
		Updating:      "Updating",
		Deregistering: "Deregistering",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestBackoffDoublingCapped(t *testing.T) {
	backoff := initialBackoff
	for i := 0; i < 10; i++ {
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	if backoff != maxBackoff {
		t.Errorf("backoff after repeated doubling = %v, want cap %v", backoff, maxBackoff)
	}
}
