package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{
			name:   "valid",
			policy: Policy{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.1},
		},
		{
			name:    "initial exceeds max",
			policy:  Policy{Initial: time.Minute, Max: time.Second, Multiplier: 2, Jitter: 0},
			wantErr: true,
		},
		{
			name:    "zero initial",
			policy:  Policy{Initial: 0, Max: time.Second, Multiplier: 2, Jitter: 0},
			wantErr: true,
		},
		{
			name:    "multiplier not above one",
			policy:  Policy{Initial: time.Second, Max: time.Minute, Multiplier: 1.0, Jitter: 0},
			wantErr: true,
		},
		{
			name:    "jitter above one",
			policy:  Policy{Initial: time.Second, Max: time.Minute, Multiplier: 2, Jitter: 1.5},
			wantErr: true,
		},
		{
			name:    "negative jitter",
			policy:  Policy{Initial: time.Second, Max: time.Minute, Multiplier: 2, Jitter: -0.1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNextDeterministicSequence(t *testing.T) {
	// With zero jitter the sequence is fully deterministic:
	// 1, 2, 4, 8, 16, 30, 30, ...
	calc, err := New(Policy{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0,
	}, rand.NewSource(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}

	d := time.Second
	for i, w := range want {
		d = calc.Next(d)
		if d != w {
			t.Errorf("step %d: Next() = %v, want %v", i, d, w)
		}
	}
}

func TestNextStaysWithinBounds(t *testing.T) {
	policy := Policy{
		Initial:    500 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 3,
		Jitter:     1.0, // maximum jitter
	}
	calc, err := New(policy, rand.NewSource(42))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	d := policy.Initial
	for i := 0; i < 1000; i++ {
		d = calc.Next(d)
		if d < policy.Initial || d > policy.Max {
			t.Fatalf("step %d: delay %v outside [%v, %v]", i, d, policy.Initial, policy.Max)
		}
	}
}

func TestNextSeededReproducibility(t *testing.T) {
	policy := Policy{Initial: time.Second, Max: time.Minute, Multiplier: 2, Jitter: 0.5}

	a, _ := New(policy, rand.NewSource(7))
	b, _ := New(policy, rand.NewSource(7))

	d1, d2 := time.Second, time.Second
	for i := 0; i < 50; i++ {
		d1 = a.Next(d1)
		d2 = b.Next(d2)
		if d1 != d2 {
			t.Fatalf("step %d: same seed diverged: %v vs %v", i, d1, d2)
		}
	}
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	_, err := New(Policy{Initial: time.Minute, Max: time.Second, Multiplier: 2}, nil)
	if err == nil {
		t.Error("expected error for initial > max")
	}
}
