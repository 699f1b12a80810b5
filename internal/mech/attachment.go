package mech

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/mechsim/internal/spatial"
)

type AttachmentID int

// Attachment expresses a slave component's motion as a function of one or
// more masters. For master i the block GT(i) has size masterDOF x slaveDOF and
//
//	v_slave = -sum_i GT(i)^T v_master(i)
//
// Blocks may depend on the current pose and are refreshed by UpdatePosStates.
type Attachment interface {
	Slave() ComponentID
	// Masters panics if the attachment has not been initialized.
	Masters() []ComponentID
	NumMasters() int
	ContainsMaster(id ComponentID) bool

	GT(i int) *mat.Dense
	// MulSubGTM computes D -= GT(i) M, folding slave rows into master rows.
	MulSubGTM(D, M *mat.Dense, i int)
	// MulSubMG computes D -= M GT(i)^T, folding slave columns into master
	// columns.
	MulSubMG(D, M *mat.Dense, i int)
	// MulSubGT computes y -= GT(i) x.
	MulSubGT(y, x []float64, i int)

	Init(m *Model)
	UpdatePosStates(m *Model)
	UpdateVelStates(m *Model)
	// ApplyForces adds -GT(i) f_slave to the force of every master.
	ApplyForces(m *Model)
	// Derivative writes the velocity-product part of the slave acceleration
	// into acc and reports whether it is non-zero.
	Derivative(m *Model, acc []float64) bool
}

type attachmentBase struct {
	slave       ComponentID
	masters     []ComponentID
	gt          []*mat.Dense
	initialized bool
}

func (a *attachmentBase) Slave() ComponentID { return a.slave }

func (a *attachmentBase) Masters() []ComponentID {
	if !a.initialized {
		panic(fmt.Sprintf("mech: masters of attachment for component %d queried before init", a.slave))
	}
	return a.masters
}

func (a *attachmentBase) NumMasters() int { return len(a.Masters()) }

func (a *attachmentBase) ContainsMaster(id ComponentID) bool {
	for _, mid := range a.Masters() {
		if mid == id {
			return true
		}
	}
	return false
}

func (a *attachmentBase) GT(i int) *mat.Dense {
	if !a.initialized {
		panic(fmt.Sprintf("mech: GT of attachment for component %d queried before init", a.slave))
	}
	return a.gt[i]
}

func (a *attachmentBase) MulSubGTM(D, M *mat.Dense, i int) {
	var tmp mat.Dense
	tmp.Mul(a.GT(i), M)
	D.Sub(D, &tmp)
}

func (a *attachmentBase) MulSubMG(D, M *mat.Dense, i int) {
	var tmp mat.Dense
	tmp.Mul(M, a.GT(i).T())
	D.Sub(D, &tmp)
}

func (a *attachmentBase) MulSubGT(y, x []float64, i int) {
	g := a.GT(i)
	r, c := g.Dims()
	for row := 0; row < r; row++ {
		sum := 0.0
		for col := 0; col < c; col++ {
			sum += g.At(row, col) * x[col]
		}
		y[row] -= sum
	}
}

func (a *attachmentBase) Derivative(m *Model, acc []float64) bool {
	for i := range acc {
		acc[i] = 0
	}
	return false
}

func (a *attachmentBase) init(masters []ComponentID, blocks []*mat.Dense) {
	a.masters = masters
	a.gt = blocks
	a.initialized = true
}

func requireKind(m *Model, id ComponentID, k Kind, role string) *Component {
	c := m.Component(id)
	if c.Kind != k {
		panic(fmt.Sprintf("mech: %s %q is a %s, want %s", role, c.Name, c.Kind, k))
	}
	return c
}

// PointFrameAttachment fixes a particle to a body-frame location on a rigid
// body. Its block depends on the body orientation.
type PointFrameAttachment struct {
	attachmentBase
	Frame ComponentID
	Loc   mgl64.Vec3

	r mgl64.Vec3
}

func NewPointFrameAttachment(point, frame ComponentID, loc mgl64.Vec3) *PointFrameAttachment {
	return &PointFrameAttachment{
		attachmentBase: attachmentBase{slave: point},
		Frame:          frame,
		Loc:            loc,
	}
}

func (a *PointFrameAttachment) Init(m *Model) {
	requireKind(m, a.slave, Particle, "attached point")
	requireKind(m, a.Frame, Rigid, "frame")
	a.init([]ComponentID{a.Frame}, []*mat.Dense{mat.NewDense(6, 3, nil)})
	a.updateGT(m)
}

// updateGT sets GT = [-I; -[r]x].
func (a *PointFrameAttachment) updateGT(m *Model) {
	a.r = m.Component(a.Frame).WorldOffset(a.Loc)
	g := a.gt[0]
	s := spatial.Skew(a.r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			g.Set(i, j, 0)
			g.Set(3+i, j, -s.At(i, j))
		}
		g.Set(i, i, -1)
	}
}

func (a *PointFrameAttachment) UpdatePosStates(m *Model) {
	a.updateGT(m)
	frame := m.Component(a.Frame)
	m.Component(a.slave).SetPosition(frame.Position().Add(a.r))
}

func (a *PointFrameAttachment) UpdateVelStates(m *Model) {
	frame := m.Component(a.Frame)
	m.Component(a.slave).SetLinearVelocity(frame.PointVelocity(a.r))
}

func (a *PointFrameAttachment) MulSubGT(y, x []float64, i int) {
	if i != 0 {
		panic(fmt.Sprintf("mech: master index %d out of range", i))
	}
	f := spatial.Vec3(x, 0)
	w := spatial.Wrench(f, a.r)
	for k := 0; k < 6; k++ {
		y[k] += w[k]
	}
}

func (a *PointFrameAttachment) ApplyForces(m *Model) {
	a.MulSubGT(m.Component(a.Frame).Force, m.Component(a.slave).Force, 0)
}

// Derivative returns w x (w x r), the centripetal part of the point
// acceleration.
func (a *PointFrameAttachment) Derivative(m *Model, acc []float64) bool {
	w := m.Component(a.Frame).AngularVelocity()
	spatial.PutVec3(acc, 0, w.Cross(w.Cross(a.r)))
	return w.Len() != 0
}

// PointParticleAttachment glues one particle to another.
type PointParticleAttachment struct {
	attachmentBase
	Master ComponentID
}

func NewPointParticleAttachment(point, master ComponentID) *PointParticleAttachment {
	return &PointParticleAttachment{
		attachmentBase: attachmentBase{slave: point},
		Master:         master,
	}
}

func (a *PointParticleAttachment) Init(m *Model) {
	requireKind(m, a.slave, Particle, "attached point")
	requireKind(m, a.Master, Particle, "master point")
	g := mat.NewDense(3, 3, []float64{-1, 0, 0, 0, -1, 0, 0, 0, -1})
	a.init([]ComponentID{a.Master}, []*mat.Dense{g})
}

func (a *PointParticleAttachment) UpdatePosStates(m *Model) {
	m.Component(a.slave).SetPosition(m.Component(a.Master).Position())
}

func (a *PointParticleAttachment) UpdateVelStates(m *Model) {
	m.Component(a.slave).SetLinearVelocity(m.Component(a.Master).LinearVelocity())
}

func (a *PointParticleAttachment) MulSubGT(y, x []float64, i int) {
	for k := 0; k < 3; k++ {
		y[k] += x[k]
	}
}

func (a *PointParticleAttachment) ApplyForces(m *Model) {
	a.MulSubGT(m.Component(a.Master).Force, m.Component(a.slave).Force, 0)
}

// PointWeightedAttachment places a particle at a weighted combination of
// other particles, as for a point embedded in an element.
type PointWeightedAttachment struct {
	attachmentBase
	Points  []ComponentID
	Weights []float64
}

func NewPointWeightedAttachment(point ComponentID, points []ComponentID, weights []float64) *PointWeightedAttachment {
	if len(points) != len(weights) || len(points) == 0 {
		panic(fmt.Sprintf("mech: %d points with %d weights", len(points), len(weights)))
	}
	return &PointWeightedAttachment{
		attachmentBase: attachmentBase{slave: point},
		Points:         append([]ComponentID(nil), points...),
		Weights:        append([]float64(nil), weights...),
	}
}

func (a *PointWeightedAttachment) Init(m *Model) {
	requireKind(m, a.slave, Particle, "attached point")
	blocks := make([]*mat.Dense, len(a.Points))
	for i, id := range a.Points {
		requireKind(m, id, Particle, "master point")
		w := a.Weights[i]
		blocks[i] = mat.NewDense(3, 3, []float64{-w, 0, 0, 0, -w, 0, 0, 0, -w})
	}
	a.init(append([]ComponentID(nil), a.Points...), blocks)
}

func (a *PointWeightedAttachment) UpdatePosStates(m *Model) {
	var p mgl64.Vec3
	for i, id := range a.Points {
		p = p.Add(m.Component(id).Position().Mul(a.Weights[i]))
	}
	m.Component(a.slave).SetPosition(p)
}

func (a *PointWeightedAttachment) UpdateVelStates(m *Model) {
	var v mgl64.Vec3
	for i, id := range a.Points {
		v = v.Add(m.Component(id).LinearVelocity().Mul(a.Weights[i]))
	}
	m.Component(a.slave).SetLinearVelocity(v)
}

func (a *PointWeightedAttachment) MulSubGT(y, x []float64, i int) {
	w := a.Weights[i]
	for k := 0; k < 3; k++ {
		y[k] += w * x[k]
	}
}

func (a *PointWeightedAttachment) ApplyForces(m *Model) {
	f := m.Component(a.slave).Force
	for i, id := range a.Points {
		a.MulSubGT(m.Component(id).Force, f, i)
	}
}
