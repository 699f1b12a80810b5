package dynamo

import "math"

// State is a flat vector of generalized coordinates, velocities, forces or
// impulses.
type State []float64

func NewState(n int) State {
	return make(State, n)
}

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Dot(other State) float64 {
	sum := 0.0
	for i := range s {
		if i < len(other) {
			sum += s[i] * other[i]
		}
	}
	return sum
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// Zero clears s in place.
func (s State) Zero() {
	for i := range s {
		s[i] = 0
	}
}

// Resize returns s with length n, reusing the backing array when possible.
// Entries are zeroed.
func (s State) Resize(n int) State {
	if cap(s) < n {
		return make(State, n)
	}
	s = s[:n]
	s.Zero()
	return s
}

// MaxAbs returns the largest absolute entry.
func (s State) MaxAbs() float64 {
	m := 0.0
	for _, v := range s {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}
