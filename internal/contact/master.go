package contact

import (
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/mechsim/internal/mech"
)

type MasterKind int

const (
	RigidMaster MasterKind = iota
	VertexMaster
)

func (k MasterKind) String() string {
	if k == RigidMaster {
		return "rigid"
	}
	return "vertex"
}

// Master is one component moving a contact point. Weight carries the
// barycentric weight for vertices and the side sign: positive on the first
// contact point, negative on the second. Offset is the world-frame offset of
// the contact point from a rigid body origin.
type Master struct {
	Kind   MasterKind
	Comp   mech.ComponentID
	Weight float64
	Offset mgl64.Vec3
}

// Block returns the GT block mapping the master's velocity onto motion of
// the contact point along dir: a 6x1 wrench block for rigid bodies, a 3x1
// block for vertices.
func (cm Master) Block(dir mgl64.Vec3) *mat.Dense {
	d := dir.Mul(cm.Weight)
	if cm.Kind == VertexMaster {
		return mat.NewDense(3, 1, []float64{d[0], d[1], d[2]})
	}
	t := cm.Offset.Cross(d)
	return mat.NewDense(6, 1, []float64{d[0], d[1], d[2], t[0], t[1], t[2]})
}

// addToBlock adds the block for each direction into columns of blk.
func (cm Master) addToBlock(blk *mat.Dense, col int, dir mgl64.Vec3) {
	d := dir.Mul(cm.Weight)
	for i := 0; i < 3; i++ {
		blk.Set(i, col, blk.At(i, col)+d[i])
	}
	if cm.Kind == RigidMaster {
		t := cm.Offset.Cross(d)
		for i := 0; i < 3; i++ {
			blk.Set(3+i, col, blk.At(3+i, col)+t[i])
		}
	}
}

// Velocity returns the weighted velocity this master imparts on the point.
func (cm Master) Velocity(m *mech.Model) mgl64.Vec3 {
	c := m.Component(cm.Comp)
	if cm.Kind == VertexMaster {
		return c.LinearVelocity().Mul(cm.Weight)
	}
	return c.PointVelocity(cm.Offset).Mul(cm.Weight)
}

func (cm Master) size() int {
	if cm.Kind == VertexMaster {
		return 3
	}
	return 6
}
