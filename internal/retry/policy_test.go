package retry

import (
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Mode != ModeFixed {
		t.Fatalf("expected fixed default mode got %s", p.Mode)
	}
	if p.Initial != time.Second {
		t.Fatalf("expected initial 1s got %v", p.Initial)
	}
	if p.MaxRetries != Unbounded {
		t.Fatalf("expected unbounded retries got %d", p.MaxRetries)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
}

func TestNewPolicyOverrides(t *testing.T) {
	p := NewPolicy(ModeLinear, 5*time.Second, 2*time.Second, 5)
	if p.Initial != 2*time.Second {
		t.Fatalf("expected clamped initial 2s got %v", p.Initial)
	}
	if p.Mode != ModeLinear {
		t.Fatalf("expected linear mode got %s", p.Mode)
	}
	if p.MaxRetries != 5 {
		t.Fatalf("expected maxRetries 5 got %d", p.MaxRetries)
	}
}

func TestFixedPolicyNeverExhausts(t *testing.T) {
	p := FixedPolicy(250 * time.Millisecond)
	for i := 1; i <= 1000; i++ {
		if d := p.Delay(i); d != 250*time.Millisecond {
			t.Fatalf("attempt %d expected 250ms got %v", i, d)
		}
		if p.Exhausted(i) {
			t.Fatalf("fixed policy exhausted at attempt %d", i)
		}
	}
}

func TestDelayModes(t *testing.T) {
	linear := NewPolicy(ModeLinear, 100*time.Millisecond, 250*time.Millisecond, 5)
	cases := []struct {
		attempt int
		want    time.Duration
	}{{1, 100 * time.Millisecond}, {2, 200 * time.Millisecond}, {3, 250 * time.Millisecond}, {4, 250 * time.Millisecond}}
	for _, c := range cases {
		if got := linear.Delay(c.attempt); got != c.want {
			t.Fatalf("linear attempt %d expected %v got %v", c.attempt, c.want, got)
		}
	}

	exp := NewPolicy(ModeExponential, 50*time.Millisecond, 160*time.Millisecond, 5)
	expCases := []struct {
		attempt int
		want    time.Duration
	}{{1, 50 * time.Millisecond}, {2, 100 * time.Millisecond}, {3, 160 * time.Millisecond}, {64, 160 * time.Millisecond}}
	for _, c := range expCases {
		if got := exp.Delay(c.attempt); got != c.want {
			t.Fatalf("exp attempt %d expected %v got %v", c.attempt, c.want, got)
		}
	}
	if !exp.Exhausted(6) || exp.Exhausted(5) {
		t.Fatalf("expected exhaustion after 5 retries")
	}
}

func TestDelayEdgeCases(t *testing.T) {
	p := FixedPolicy(10 * time.Millisecond)
	if d := p.Delay(0); d != 0 {
		t.Fatalf("attempt 0 expected 0 got %v", d)
	}
	if d := p.Delay(-1); d != 0 {
		t.Fatalf("attempt -1 expected 0 got %v", d)
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("EXP") != ModeExponential {
		t.Fatal("expected exp alias")
	}
	if ParseMode("bogus") != ModeFixed {
		t.Fatal("expected fixed fallback")
	}
}
