package dynamo

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
)

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		valid bool
	}{
		{"empty", State{}, true},
		{"normal", State{1.0, 2.0, 3.0}, true},
		{"with NaN", State{1.0, math.NaN()}, false},
		{"with +Inf", State{1.0, math.Inf(1)}, false},
		{"with -Inf", State{1.0, math.Inf(-1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestState_Norm(t *testing.T) {
	tests := []struct {
		state    State
		expected float64
	}{
		{State{3, 4}, 5.0},
		{State{0, 0}, 0.0},
		{State{1, 1, 1, 1}, 2.0},
	}

	for _, tt := range tests {
		if got := tt.state.Norm(); math.Abs(got-tt.expected) > 1e-10 {
			t.Errorf("Norm(%v) = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestState_Arithmetic(t *testing.T) {
	a := State{1, 2, 3}
	b := State{4, 5, 6}

	sum := a.Add(b)
	if sum[0] != 5 || sum[1] != 7 || sum[2] != 9 {
		t.Errorf("Add failed: got %v", sum)
	}

	diff := b.Sub(a)
	if diff[0] != 3 || diff[1] != 3 || diff[2] != 3 {
		t.Errorf("Sub failed: got %v", diff)
	}

	if d := a.Dot(b); d != 32 {
		t.Errorf("Dot = %v, want 32", d)
	}

	if m := (State{1, -7, 3}).MaxAbs(); m != 7 {
		t.Errorf("MaxAbs = %v, want 7", m)
	}
}

func TestState_Resize(t *testing.T) {
	s := State{1, 2, 3, 4}
	r := s.Resize(2)
	if len(r) != 2 || r[0] != 0 || r[1] != 0 {
		t.Errorf("Resize(2) = %v", r)
	}
	if &r[0] != &s[0] {
		t.Error("Resize did not reuse backing array")
	}
	if g := s.Resize(8); len(g) != 8 {
		t.Errorf("Resize(8) has length %d", len(g))
	}
}

func TestSolveErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("step: %w", &SolveError{Mode: "velocity", Step: 3, Wrapped: ErrSingularSystem})
	if !errors.Is(err, ErrSingularSystem) {
		t.Fatal("errors.Is did not find ErrSingularSystem")
	}
	var se *SolveError
	if !errors.As(err, &se) || se.Step != 3 {
		t.Fatalf("errors.As = %v", se)
	}
	if se.Error() != "velocity: "+ErrSingularSystem.Error() {
		t.Errorf("Error() = %q", se.Error())
	}
}

func TestParallelForCoversRange(t *testing.T) {
	for _, n := range []int{0, 1, 63, 64, 1000} {
		hits := make([]int32, n)
		var calls atomic.Int32
		ParallelFor(n, 64, func(start, end int) {
			calls.Add(1)
			for i := start; i < end; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("n=%d: index %d visited %d times", n, i, h)
			}
		}
		if n <= 64 && calls.Load() != 1 {
			t.Errorf("n=%d: expected inline call, got %d", n, calls.Load())
		}
	}
}
