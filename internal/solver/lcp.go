package solver

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

type frictionSet struct {
	off   int
	size  int
	bound float64
}

// lcp is a dense mixed complementarity problem
//
//	w = (A + R) z + q
//	w = 0                  for bilateral rows
//	w >= 0, z >= 0, w.z=0  for unilateral rows
//	|z_set| <= bound       for friction sets
//
// solved by projected Gauss-Seidel.
type lcp struct {
	A     *mat.Dense
	reg   []float64
	q     []float64
	z     []float64
	empty []bool
	nb    int
	nu    int
	sets  []frictionSet
}

func newLCP(A *mat.Dense, nb, nu int) *lcp {
	n, _ := A.Dims()
	return &lcp{
		A:     A,
		reg:   make([]float64, n),
		q:     make([]float64, n),
		z:     make([]float64, n),
		empty: make([]bool, n),
		nb:    nb,
		nu:    nu,
	}
}

func (l *lcp) addRow(i int, r, b float64) {
	l.reg[i] += r
	l.q[i] -= b
}

// markEmpty flags rows with no Jacobian entries or a non-positive diagonal.
// Their impulse is held at zero.
func (l *lcp) markEmpty(J *mat.Dense) {
	r, c := J.Dims()
	for j := 0; j < c; j++ {
		nz := false
		for i := 0; i < r && !nz; i++ {
			nz = J.At(i, j) != 0
		}
		if !nz || l.A.At(j, j)+l.reg[j] <= 0 {
			l.empty[j] = true
		}
	}
}

// relax performs one Gauss-Seidel update of row i and returns the change.
func (l *lcp) relax(i int) float64 {
	if l.empty[i] {
		d := -l.z[i]
		l.z[i] = 0
		return d
	}
	w := l.q[i] + l.reg[i]*l.z[i]
	row := l.A.RawRowView(i)
	for j, a := range row {
		w += a * l.z[j]
	}
	old := l.z[i]
	z := old - w/(row[i]+l.reg[i])
	if i >= l.nb && i < l.nb+l.nu && z < 0 {
		z = 0
	}
	l.z[i] = z
	return z - old
}

// solve iterates until the largest impulse change falls below tol relative
// to the impulse magnitude, and returns the number of sweeps.
func (l *lcp) solve(maxIter int, tol float64) int {
	nc := l.nb + l.nu
	for i := range l.z {
		if l.empty[i] || (i >= l.nb && i < nc && l.z[i] < 0) {
			l.z[i] = 0
		}
	}
	for it := 1; it <= maxIter; it++ {
		var delta, mag float64
		for i := 0; i < nc; i++ {
			delta = math.Max(delta, math.Abs(l.relax(i)))
		}
		for _, s := range l.sets {
			var before [3]float64
			copy(before[:], l.z[s.off:s.off+s.size])
			for i := s.off; i < s.off+s.size; i++ {
				l.relax(i)
			}
			l.project(s)
			for k := 0; k < s.size; k++ {
				delta = math.Max(delta, math.Abs(l.z[s.off+k]-before[k]))
			}
		}
		for _, z := range l.z {
			mag = math.Max(mag, math.Abs(z))
		}
		if delta <= tol*(1+mag) {
			return it
		}
	}
	return maxIter
}

// project scales a friction set back onto the disk of radius bound.
func (l *lcp) project(s frictionSet) {
	z := l.z[s.off : s.off+s.size]
	if s.bound <= 0 {
		clear(z)
		return
	}
	var n2 float64
	for _, v := range z {
		n2 += v * v
	}
	if n := math.Sqrt(n2); n > s.bound {
		f := s.bound / n
		for k := range z {
			z[k] *= f
		}
	}
}
