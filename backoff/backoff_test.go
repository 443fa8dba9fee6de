package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/colloquy/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesAndCaps(t *testing.T) {
	e := backoff.NewExponential(50*time.Millisecond, time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 50 * time.Millisecond},
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{5, 800 * time.Millisecond},
		{6, time.Second},
		{20, time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialWithJitter_StaysInRange(t *testing.T) {
	e := backoff.NewExponentialWithJitter(100*time.Millisecond, time.Second)

	for attempt := 1; attempt <= 8; attempt++ {
		for i := 0; i < 20; i++ {
			got := e.Delay(attempt)
			if got < 0 || got > time.Second {
				t.Fatalf("Delay(%d) = %v out of [0, 1s]", attempt, got)
			}
		}
	}
}

func TestDefaultIdle(t *testing.T) {
	s := backoff.DefaultIdle()
	if got := s.Delay(1); got != 50*time.Millisecond {
		t.Errorf("first idle delay = %v", got)
	}
	if got := s.Delay(30); got != time.Second {
		t.Errorf("settled idle delay = %v", got)
	}
}
