// Package solver extracts the active part of the assembled constraint
// system, factors the rigid-body mass once per structure and solves the
// resulting mixed complementarity problems for velocity, position and
// friction.
package solver

import (
	"github.com/san-kum/mechsim/internal/dynamo"
	"github.com/san-kum/mechsim/internal/matrix"
	"github.com/san-kum/mechsim/internal/mech"
)

// Problem is the global system for one step. Matrices have one block row per
// solve index; only the first NumActive rows are considered. Vel and Force are
// flat over the active components in solve index order.
type Problem struct {
	Sizes     []int
	NumActive int

	M     *matrix.SparseBlock
	Vel   dynamo.State
	Force dynamo.State

	GT    *matrix.SparseBlock
	GInfo []mech.ConstraintInfo
	NT    *matrix.SparseBlock
	NInfo []mech.ConstraintInfo

	// Lambda and Theta warm-start the bilateral and unilateral impulses when
	// their lengths match the constraint counts.
	Lambda []float64
	Theta  []float64

	H float64
}

func (p *Problem) numBilateral() int {
	if p.GT == nil {
		return 0
	}
	return p.GT.Cols()
}

func (p *Problem) numUnilateral() int {
	if p.NT == nil {
		return 0
	}
	return p.NT.Cols()
}

// FrictionBuilder assembles the friction matrix once the contact impulses
// of the first pass are known.
type FrictionBuilder func(lam, the []float64) (*matrix.SparseBlock, []mech.FrictionInfo)

// Solution holds the projected velocities (or position corrections) and the
// impulses, all flat.
type Solution struct {
	Vel        dynamo.State
	Dq         dynamo.State
	Lambda     []float64
	Theta      []float64
	Phi        []float64
	Iterations int
}

// Stats counts the expensive operations performed so far.
type Stats struct {
	Analyses       int
	Factorizations int
	Solves         int
}
