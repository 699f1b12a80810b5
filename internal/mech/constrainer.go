package mech

import (
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/mechsim/internal/matrix"
	"github.com/san-kum/mechsim/internal/spatial"
)

// ConstraintInfo describes one scalar constraint row.
type ConstraintInfo struct {
	Dist       float64
	Compliance float64
	Damping    float64
}

// FrictionInfo describes one friction set (a DT column of size 1 or 2). The
// friction impulse is bounded by Mu times the magnitude of the contact
// impulse at ContactIdx, taken from the bilateral impulses if Bilateral is
// set and from the unilateral ones otherwise.
type FrictionInfo struct {
	Mu         float64
	ContactIdx int
	Bilateral  bool
}

// Constrainer contributes constraint rows to the solve. Matrices passed in
// have one block row per solve index; implementations append block columns.
// Impulse accessors consume entries starting at idx and return the next
// index.
type Constrainer interface {
	BilateralSizes(sizes []int) []int
	BilateralInfo(infos []ConstraintInfo) []ConstraintInfo
	AddBilateralConstraints(GT *matrix.SparseBlock)
	SetBilateralImpulses(lam []float64, h float64, idx int) int
	BilateralImpulses(lam []float64, idx int) int

	UnilateralSizes(sizes []int) []int
	UnilateralInfo(infos []ConstraintInfo) []ConstraintInfo
	AddUnilateralConstraints(NT *matrix.SparseBlock)
	SetUnilateralImpulses(the []float64, h float64, idx int) int
	UnilateralImpulses(the []float64, idx int) int

	// AddFrictionConstraints appends friction columns for the current
	// impulses. Sets whose bound would be negligible may be left out.
	AddFrictionConstraints(DT *matrix.SparseBlock, infos []FrictionInfo) []FrictionInfo
	SetFrictionImpulses(phi []float64, h float64, idx int) int

	ZeroImpulses()
}

// BallJoint pins a point of body A to a point of body B, or to a fixed world
// point when B is negative. It contributes one bilateral block column of
// size 3.
type BallJoint struct {
	A, B       ComponentID
	LocA, LocB mgl64.Vec3

	model  *Model
	col    int
	lambda [3]float64
}

// NewBallJoint joins a and b at the world point p, using the current poses.
func NewBallJoint(m *Model, a, b ComponentID, p mgl64.Vec3) *BallJoint {
	j := &BallJoint{A: a, B: b, model: m, col: -1}
	j.LocA = m.Component(a).LocalPoint(p)
	if b >= 0 {
		j.LocB = m.Component(b).LocalPoint(p)
	} else {
		j.LocB = p
	}
	return j
}

// Error returns the world-frame separation of the joined points.
func (j *BallJoint) Error() mgl64.Vec3 {
	pa := j.model.Component(j.A).WorldPoint(j.LocA)
	pb := j.LocB
	if j.B >= 0 {
		pb = j.model.Component(j.B).WorldPoint(j.LocB)
	}
	return pa.Sub(pb)
}

func (j *BallJoint) Impulse() mgl64.Vec3 {
	return mgl64.Vec3{j.lambda[0], j.lambda[1], j.lambda[2]}
}

func (j *BallJoint) BilateralSizes(sizes []int) []int {
	return append(sizes, 3)
}

func (j *BallJoint) BilateralInfo(infos []ConstraintInfo) []ConstraintInfo {
	e := j.Error()
	for k := 0; k < 3; k++ {
		infos = append(infos, ConstraintInfo{Dist: e[k]})
	}
	return infos
}

func (j *BallJoint) AddBilateralConstraints(GT *matrix.SparseBlock) {
	bj := GT.AddCol(3)
	j.col = bj
	j.addBlock(GT, bj, j.A, j.LocA, 1)
	if j.B >= 0 {
		j.addBlock(GT, bj, j.B, j.LocB, -1)
	}
}

// addBlock adds the rows mapping body velocity to the joined point velocity.
func (j *BallJoint) addBlock(GT *matrix.SparseBlock, bj int, id ComponentID, loc mgl64.Vec3, sign float64) {
	c := j.model.Component(id)
	if c.SolveIndex < 0 {
		return
	}
	n := c.VelSize()
	blk := mat.NewDense(n, 3, nil)
	r := c.WorldOffset(loc)
	s := spatial.Skew(r)
	for k := 0; k < 3; k++ {
		blk.Set(k, k, sign)
		if c.Kind == Rigid {
			// column k holds r x e_k
			for i := 0; i < 3; i++ {
				blk.Set(3+i, k, sign*s.At(i, k))
			}
		}
	}
	GT.AddBlock(c.SolveIndex, bj, blk)
}

func (j *BallJoint) SetBilateralImpulses(lam []float64, h float64, idx int) int {
	copy(j.lambda[:], lam[idx:idx+3])
	return idx + 3
}

func (j *BallJoint) BilateralImpulses(lam []float64, idx int) int {
	copy(lam[idx:idx+3], j.lambda[:])
	return idx + 3
}

func (j *BallJoint) UnilateralSizes(sizes []int) []int {
	return sizes
}

func (j *BallJoint) UnilateralInfo(infos []ConstraintInfo) []ConstraintInfo {
	return infos
}

func (j *BallJoint) AddUnilateralConstraints(NT *matrix.SparseBlock) {}

func (j *BallJoint) SetUnilateralImpulses(the []float64, h float64, idx int) int {
	return idx
}

func (j *BallJoint) UnilateralImpulses(the []float64, idx int) int {
	return idx
}

func (j *BallJoint) AddFrictionConstraints(DT *matrix.SparseBlock, infos []FrictionInfo) []FrictionInfo {
	return infos
}

func (j *BallJoint) SetFrictionImpulses(phi []float64, h float64, idx int) int {
	return idx
}

func (j *BallJoint) ZeroImpulses() {
	j.lambda = [3]float64{}
}
