package mech

import (
	"fmt"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/dynamo"
	"github.com/san-kum/mechsim/internal/matrix"
	"github.com/san-kum/mechsim/internal/spatial"
)

// parallelChunk is the smallest number of attachments handed to one worker.
const parallelChunk = 64

// Model is the arena owning components and attachments.
type Model struct {
	Config  config.EngineConfig
	Gravity mgl64.Vec3

	comps       []*Component
	attachments []Attachment
	masterRefs  [][]AttachmentID
	slaveRef    []AttachmentID

	levels      [][]AttachmentID
	levelsValid bool

	numActive   int
	numAttached int
}

func NewModel(cfg config.EngineConfig) *Model {
	return &Model{Config: cfg}
}

// AddComponent stores c and assigns its ID.
func (m *Model) AddComponent(c *Component) ComponentID {
	c.ID = ComponentID(len(m.comps))
	m.comps = append(m.comps, c)
	m.masterRefs = append(m.masterRefs, nil)
	m.slaveRef = append(m.slaveRef, -1)
	return c.ID
}

func (m *Model) Component(id ComponentID) *Component {
	return m.comps[id]
}

func (m *Model) Components() []*Component { return m.comps }
func (m *Model) NumComponents() int       { return len(m.comps) }

// AddAttachment initializes a and records the master back-references. The
// slave becomes Attached.
func (m *Model) AddAttachment(a Attachment) AttachmentID {
	s := a.Slave()
	if m.slaveRef[s] >= 0 {
		panic(fmt.Sprintf("mech: component %d is already attached", s))
	}
	a.Init(m)
	id := AttachmentID(len(m.attachments))
	m.attachments = append(m.attachments, a)
	for _, mid := range a.Masters() {
		if mid == s {
			panic(fmt.Sprintf("mech: component %d attached to itself", s))
		}
		m.masterRefs[mid] = append(m.masterRefs[mid], id)
	}
	m.slaveRef[s] = id
	m.comps[s].Status = Attached
	m.levelsValid = false

	a.UpdatePosStates(m)
	a.UpdateVelStates(m)
	return id
}

// RemoveAttachment detaches the slave, which becomes Active again.
func (m *Model) RemoveAttachment(id AttachmentID) {
	a := m.Attachment(id)
	for _, mid := range a.Masters() {
		m.removeMasterRef(mid, id)
	}
	s := a.Slave()
	m.slaveRef[s] = -1
	m.comps[s].Status = Active
	m.attachments[id] = nil
	m.levelsValid = false
}

func (m *Model) removeMasterRef(mid ComponentID, id AttachmentID) {
	refs := m.masterRefs[mid]
	k := slices.Index(refs, id)
	if k < 0 {
		panic(fmt.Sprintf("mech: component %d holds no back-reference to attachment %d", mid, id))
	}
	m.masterRefs[mid] = slices.Delete(refs, k, k+1)
}

// Attachment returns the attachment with the given id. Removed ids panic.
func (m *Model) Attachment(id AttachmentID) Attachment {
	a := m.attachments[id]
	if a == nil {
		panic(fmt.Sprintf("mech: attachment %d was removed", id))
	}
	return a
}

// MasterAttachments returns the attachments for which c is a master.
func (m *Model) MasterAttachments(c ComponentID) []AttachmentID {
	return m.masterRefs[c]
}

// SlaveAttachment returns the attachment driving c, if any.
func (m *Model) SlaveAttachment(c ComponentID) (AttachmentID, bool) {
	id := m.slaveRef[c]
	return id, id >= 0
}

func (m *Model) NumAttachments() int {
	n := 0
	for _, a := range m.attachments {
		if a != nil {
			n++
		}
	}
	return n
}

// attachmentLevels groups attachments so that every master of an attachment
// in level k is either unattached or the slave of an attachment in an
// earlier level.
func (m *Model) attachmentLevels() [][]AttachmentID {
	if m.levelsValid {
		return m.levels
	}
	depth := make([]int, len(m.attachments))
	for i := range depth {
		depth[i] = -1
	}
	visiting := make([]bool, len(m.attachments))
	var visit func(id AttachmentID) int
	visit = func(id AttachmentID) int {
		if depth[id] >= 0 {
			return depth[id]
		}
		if visiting[id] {
			panic(fmt.Sprintf("mech: attachment %d is part of a dependency cycle", id))
		}
		visiting[id] = true
		d := 0
		for _, mid := range m.attachments[id].Masters() {
			if up := m.slaveRef[mid]; up >= 0 {
				d = max(d, visit(up)+1)
			}
		}
		visiting[id] = false
		depth[id] = d
		return d
	}

	var levels [][]AttachmentID
	for i, a := range m.attachments {
		if a == nil {
			continue
		}
		d := visit(AttachmentID(i))
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], AttachmentID(i))
	}
	m.levels = levels
	m.levelsValid = true
	return levels
}

func (m *Model) forEachLevel(fn func(a Attachment)) {
	for _, level := range m.attachmentLevels() {
		if !m.Config.Parallel {
			for _, id := range level {
				fn(m.attachments[id])
			}
			continue
		}
		dynamo.ParallelFor(len(level), parallelChunk, func(start, end int) {
			for _, id := range level[start:end] {
				fn(m.attachments[id])
			}
		})
	}
}

// UpdateAttachmentPosStates refreshes slave positions and attachment blocks,
// masters first.
func (m *Model) UpdateAttachmentPosStates() {
	m.forEachLevel(func(a Attachment) { a.UpdatePosStates(m) })
}

// UpdateAttachmentVelStates refreshes slave velocities, masters first.
func (m *Model) UpdateAttachmentVelStates() {
	m.forEachLevel(func(a Attachment) { a.UpdateVelStates(m) })
}

// slavesFirst visits attachments in reverse dependency order.
func (m *Model) slavesFirst(fn func(a Attachment)) {
	levels := m.attachmentLevels()
	for l := len(levels) - 1; l >= 0; l-- {
		for _, id := range levels[l] {
			fn(m.attachments[id])
		}
	}
}

// ApplyAttachmentForces moves slave forces onto their masters, slaves first so
// chained attachments propagate all the way. Unless IgnoreCoriolis is set the
// slave force first loses M_s * a_c, where a_c is the attachment's
// velocity-product acceleration.
func (m *Model) ApplyAttachmentForces() {
	var acc [6]float64
	m.slavesFirst(func(a Attachment) {
		s := m.comps[a.Slave()]
		if !m.Config.IgnoreCoriolis {
			n := s.VelSize()
			if a.Derivative(m, acc[:n]) {
				var mc mat.VecDense
				mc.MulVec(s.MassBlock(), mat.NewVecDense(n, acc[:n]))
				for i := 0; i < n; i++ {
					s.Force[i] -= mc.AtVec(i)
				}
			}
		}
		a.ApplyForces(m)
	})
}

// UpdateSolveIndices numbers active components first, then attached ones.
// Parametric components get -1.
func (m *Model) UpdateSolveIndices() {
	idx := 0
	for _, c := range m.comps {
		c.SolveIndex = -1
		if c.Status == Active {
			c.SolveIndex = idx
			idx++
		}
	}
	m.numActive = idx
	for _, c := range m.comps {
		if c.Status == Attached {
			c.SolveIndex = idx
			idx++
		}
	}
	m.numAttached = idx - m.numActive
}

func (m *Model) NumActive() int   { return m.numActive }
func (m *Model) NumAttached() int { return m.numAttached }

// VelSizes returns the velocity size of every solved component in solve
// index order, active components first.
func (m *Model) VelSizes() []int {
	sizes := make([]int, m.numActive+m.numAttached)
	for _, c := range m.comps {
		if c.SolveIndex >= 0 {
			sizes[c.SolveIndex] = c.VelSize()
		}
	}
	return sizes
}

// ComponentAt returns the component with the given solve index.
func (m *Model) ComponentAt(solveIdx int) *Component {
	for _, c := range m.comps {
		if c.SolveIndex == solveIdx {
			return c
		}
	}
	return nil
}

func (m *Model) ClearForces() {
	for _, c := range m.comps {
		c.Force.Zero()
	}
}

// ComputeForces accumulates gravity and gyroscopic forces and moves attached
// forces onto masters.
func (m *Model) ComputeForces() {
	m.ClearForces()
	for _, c := range m.comps {
		if c.Status == Parametric || c.Kind == Generic {
			continue
		}
		spatial.AddVec3(c.Force, 0, m.Gravity.Mul(c.Mass))
		if c.Kind == Rigid {
			g := c.GyroscopicForce()
			c.Force[3] += g[0]
			c.Force[4] += g[1]
			c.Force[5] += g[2]
		}
	}
	m.ApplyAttachmentForces()
}

// activeOffsets returns the offset of each active component, by solve
// index, within a flat velocity vector, plus its total size.
func (m *Model) activeOffsets() ([]int, int) {
	offs := make([]int, m.numActive)
	sizes := m.VelSizes()
	total := 0
	for i := 0; i < m.numActive; i++ {
		offs[i] = total
		total += sizes[i]
	}
	return offs, total
}

// VelocityVector gathers the velocities of active components.
func (m *Model) VelocityVector() dynamo.State {
	offs, n := m.activeOffsets()
	v := dynamo.NewState(n)
	for _, c := range m.comps {
		if c.Status == Active {
			copy(v[offs[c.SolveIndex]:], c.Vel)
		}
	}
	return v
}

// SetVelocityVector scatters v back to the active components.
func (m *Model) SetVelocityVector(v dynamo.State) {
	offs, n := m.activeOffsets()
	if len(v) != n {
		panic(fmt.Sprintf("mech: velocity vector has %d entries, want %d", len(v), n))
	}
	for _, c := range m.comps {
		if c.Status == Active {
			copy(c.Vel, v[offs[c.SolveIndex]:offs[c.SolveIndex]+c.VelSize()])
		}
	}
}

// ForceVector gathers the (reduced) forces of active components.
func (m *Model) ForceVector() dynamo.State {
	offs, n := m.activeOffsets()
	f := dynamo.NewState(n)
	for _, c := range m.comps {
		if c.Status == Active {
			copy(f[offs[c.SolveIndex]:], c.Force)
		}
	}
	return f
}

// MassMatrix assembles the block diagonal mass over all solved components and
// folds attached masses into their masters. Rows and columns at or beyond
// NumActive are left behind by the reduction and must be ignored.
func (m *Model) MassMatrix() *matrix.SparseBlock {
	M := matrix.NewSquare(m.VelSizes())
	for _, c := range m.comps {
		if c.SolveIndex >= 0 {
			M.AddBlock(c.SolveIndex, c.SolveIndex, c.MassBlock())
		}
	}
	m.ReduceMass(M)
	return M
}

// ReduceMass folds the rows and columns of attached components in M into
// those of their masters, computing M' = P^T M P for the attachment map P.
func (m *Model) ReduceMass(M *matrix.SparseBlock) {
	m.slavesFirst(func(a Attachment) {
		bs := m.comps[a.Slave()].SolveIndex
		masters := m.solvedMasters(a)
		for _, k := range slices.Clone(M.RowBlocks(bs)) {
			blk := M.Block(bs, k)
			for _, mi := range masters {
				a.MulSubGTM(M.EnsureBlock(mi.solveIdx, k), blk, mi.index)
			}
		}
		for _, r := range slices.Clone(M.ColBlocks(bs)) {
			blk := M.Block(r, bs)
			for _, mj := range masters {
				a.MulSubMG(M.EnsureBlock(r, mj.solveIdx), blk, mj.index)
			}
		}
	})
}

// ReduceConstraints folds the rows of attached components in a transposed
// constraint matrix (rows indexed by solve index) into their masters' rows.
func (m *Model) ReduceConstraints(GT *matrix.SparseBlock) {
	m.slavesFirst(func(a Attachment) {
		bs := m.comps[a.Slave()].SolveIndex
		if bs >= GT.NumBlockRows() {
			return
		}
		masters := m.solvedMasters(a)
		for _, k := range slices.Clone(GT.RowBlocks(bs)) {
			blk := GT.Block(bs, k)
			for _, mi := range masters {
				a.MulSubGTM(GT.EnsureBlock(mi.solveIdx, k), blk, mi.index)
			}
		}
	})
}

type solvedMaster struct {
	index    int
	solveIdx int
}

// solvedMasters lists masters that take part in the solve. Parametric masters
// absorb nothing.
func (m *Model) solvedMasters(a Attachment) []solvedMaster {
	masters := a.Masters()
	out := make([]solvedMaster, 0, len(masters))
	for i, mid := range masters {
		if si := m.comps[mid].SolveIndex; si >= 0 {
			out = append(out, solvedMaster{index: i, solveIdx: si})
		}
	}
	return out
}

// AdvancePositions integrates active components over h and refreshes
// attached ones.
func (m *Model) AdvancePositions(h float64) {
	for _, c := range m.comps {
		if c.Status == Active {
			c.IntegratePosition(h)
		}
	}
	m.UpdateAttachmentPosStates()
}

// KineticEnergy sums the kinetic energy of active and attached components.
func (m *Model) KineticEnergy() float64 {
	e := 0.0
	for _, c := range m.comps {
		if c.Status != Parametric {
			e += c.KineticEnergy()
		}
	}
	return e
}
