package contact

import (
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/mechsim/internal/matrix"
	"github.com/san-kum/mechsim/internal/mech"
	"github.com/san-kum/mechsim/internal/spatial"
)

// Constraint is a single contact between two points.
type Constraint struct {
	Point0 Point
	Point1 Point
	Normal mgl64.Vec3
	Dist   float64

	Lambda float64
	Phi    [2]float64
	Active bool

	// SolveIndex is the scalar column of this constraint in the bilateral or
	// unilateral matrix, assigned during assembly.
	SolveIndex int
	// ContactArea is -1 when unknown.
	ContactArea float64

	identifyByPoint1 bool
	masters          []Master
	frictionDir      mgl64.Vec3
	tangentSpeed     float64
}

func NewConstraint(p0, p1 Point, identifyByPoint1 bool) *Constraint {
	return &Constraint{
		Point0:           p0.clone(),
		Point1:           p1.clone(),
		SolveIndex:       -1,
		ContactArea:      -1,
		identifyByPoint1: identifyByPoint1,
	}
}

func (c *Constraint) key() pointKey {
	if c.identifyByPoint1 {
		return c.Point1.key()
	}
	return c.Point0.key()
}

func (c *Constraint) SetContactPoints(p0, p1 Point) {
	c.Point0 = p0.clone()
	c.Point1 = p1.clone()
}

func (c *Constraint) Masters() []Master { return c.masters }

// AssignMasters reduces both contact points to masters. The first point
// contributes with positive sign and the second with negative, so that J v
// is the separating speed along Normal.
func (c *Constraint) AssignMasters(m *mech.Model, c0, c1 Collidable) {
	c.masters = c.masters[:0]
	c.masters = appendMasters(c.masters, m, c0, c.Point0, 1)
	c.masters = appendMasters(c.masters, m, c1, c.Point1, -1)
}

func appendMasters(dst []Master, m *mech.Model, col Collidable, p Point, sign float64) []Master {
	if f := col.Frame(); f >= 0 {
		body := m.Component(f)
		return append(dst, Master{
			Kind:   RigidMaster,
			Comp:   f,
			Weight: sign,
			Offset: p.Position.Sub(body.Position()),
		})
	}
	for i, v := range p.Vertices {
		dst = append(dst, Master{
			Kind:   VertexMaster,
			Comp:   col.VertexComponent(v),
			Weight: sign * p.Weights[i],
		})
	}
	return dst
}

// RelativeVelocity returns the velocity of the first point relative to the
// second.
func (c *Constraint) RelativeVelocity(m *mech.Model) mgl64.Vec3 {
	var v mgl64.Vec3
	for _, cm := range c.masters {
		v = v.Add(cm.Velocity(m))
	}
	return v
}

// NormalSpeed is positive when the points separate.
func (c *Constraint) NormalSpeed(m *mech.Model) float64 {
	return c.Normal.Dot(c.RelativeVelocity(m))
}

// AddConstraintBlocks adds the normal blocks into column bj of GT. Masters
// sharing a component are summed into one block.
func (c *Constraint) AddConstraintBlocks(m *mech.Model, GT *matrix.SparseBlock, bj int) {
	c.addBlocks(m, GT, bj, c.Normal)
}

func (c *Constraint) addBlocks(m *mech.Model, GT *matrix.SparseBlock, bj int, dirs ...mgl64.Vec3) {
	for _, cm := range c.masters {
		si := m.Component(cm.Comp).SolveIndex
		if si < 0 {
			continue
		}
		blk := mat.NewDense(cm.size(), len(dirs), nil)
		for k, d := range dirs {
			cm.addToBlock(blk, k, d)
		}
		GT.AddBlock(si, bj, blk)
	}
}

// ComputeFrictionDir sets the stick direction opposite the relative
// tangential velocity and returns the tangential speed. When the speed is
// below machine precision the direction falls back to a fixed perpendicular
// of the normal.
func (c *Constraint) ComputeFrictionDir(m *mech.Model) float64 {
	v := c.RelativeVelocity(m)
	vt := v.Sub(c.Normal.Mul(c.Normal.Dot(v)))
	c.tangentSpeed = vt.Len()
	if c.tangentSpeed > spatial.DoublePrec {
		c.frictionDir = vt.Mul(-1 / c.tangentSpeed)
	} else {
		c.frictionDir = spatial.Perpendicular(c.Normal)
	}
	return c.tangentSpeed
}

func (c *Constraint) FrictionDir() mgl64.Vec3 { return c.frictionDir }

// Add1DFriction appends one friction column along the stick direction set
// by the last ComputeFrictionDir.
func (c *Constraint) Add1DFriction(m *mech.Model, DT *matrix.SparseBlock, infos []mech.FrictionInfo, mu float64, bilateral bool) []mech.FrictionInfo {
	bj := DT.AddCol(1)
	c.addBlocks(m, DT, bj, c.frictionDir)
	return append(infos, mech.FrictionInfo{Mu: mu, ContactIdx: c.SolveIndex, Bilateral: bilateral})
}

// Add2DFriction appends a two-column friction set spanning the tangent plane,
// with the first direction along the stick direction.
func (c *Constraint) Add2DFriction(m *mech.Model, DT *matrix.SparseBlock, infos []mech.FrictionInfo, mu float64, bilateral bool) []mech.FrictionInfo {
	t0, t1 := spatial.TangentBasis(c.Normal, c.frictionDir)
	bj := DT.AddCol(2)
	c.addBlocks(m, DT, bj, t0, t1)
	return append(infos, mech.FrictionInfo{Mu: mu, ContactIdx: c.SolveIndex, Bilateral: bilateral})
}

// ConstraintState is the checkpointed form of a Constraint. Points refer to
// vertices by index, so a state can be restored onto the same collidables
// after they have been rebuilt.
type ConstraintState struct {
	Point0           Point
	Point1           Point
	Normal           mgl64.Vec3
	Dist             float64
	Lambda           float64
	Phi              [2]float64
	Active           bool
	ContactArea      float64
	IdentifyByPoint1 bool
}

func (c *Constraint) GetState() ConstraintState {
	return ConstraintState{
		Point0:           c.Point0.clone(),
		Point1:           c.Point1.clone(),
		Normal:           c.Normal,
		Dist:             c.Dist,
		Lambda:           c.Lambda,
		Phi:              c.Phi,
		Active:           c.Active,
		ContactArea:      c.ContactArea,
		IdentifyByPoint1: c.identifyByPoint1,
	}
}

func (c *Constraint) SetState(s ConstraintState) {
	c.Point0 = s.Point0.clone()
	c.Point1 = s.Point1.clone()
	c.Normal = s.Normal
	c.Dist = s.Dist
	c.Lambda = s.Lambda
	c.Phi = s.Phi
	c.Active = s.Active
	c.ContactArea = s.ContactArea
	c.identifyByPoint1 = s.IdentifyByPoint1
	c.SolveIndex = -1
	c.masters = c.masters[:0]
}
