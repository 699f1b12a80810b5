package solver

import (
	"math"
	"slices"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/dynamo"
	"github.com/san-kum/mechsim/internal/matrix"
	"github.com/san-kum/mechsim/internal/mech"
)

// minRigidSize is the smallest velocity block treated as a rigid body.
const minRigidSize = 6

type bodyInfo struct {
	solveIdx  int
	size      int
	globalOff int
	localOff  int
}

// RigidBodySolver solves the constraint system of the active components.
// Components whose velocity block has at least six entries form the rigid
// subsystem, whose mass is factored as a whole; smaller components (particles,
// vertex nodes) enter through the inverse of their diagonal mass block. The
// local index map is rebuilt only when the structure of the mass or
// constraint matrices changes; the rigid factorization is kept until either
// the structure or the mass values change.
type RigidBodySolver struct {
	cfg config.EngineConfig
	log logr.Logger

	structure matrix.Version
	friction  matrix.Version

	bodies     []bodyInfo
	localIdx   []int
	localSize  int
	globalSize int

	// nodes follow the rigid bodies in the local ordering.
	nodes   []bodyInfo
	nodeIdx []int
	nodeInv []*mat.Dense
	sysSize int

	chol     mat.Cholesky
	massVals []float64
	factored bool

	stats Stats
}

func New(cfg config.EngineConfig) *RigidBodySolver {
	return &RigidBodySolver{cfg: cfg, log: logr.Discard()}
}

func (s *RigidBodySolver) SetLogger(log logr.Logger) { s.log = log }
func (s *RigidBodySolver) Stats() Stats              { return s.stats }
func (s *RigidBodySolver) NumBodies() int            { return len(s.bodies) }
func (s *RigidBodySolver) NumNodes() int             { return len(s.nodes) }

// Version is bumped whenever the mass, bilateral or unilateral structure
// changes.
func (s *RigidBodySolver) Version() int { return s.structure.Value() }

// FrictionVersion is bumped whenever the friction structure changes,
// including when pruned friction sets disappear or return.
func (s *RigidBodySolver) FrictionVersion() int { return s.friction.Value() }

// LocalIndex maps a solve index to the local body index, or -1.
func (s *RigidBodySolver) LocalIndex(solveIdx int) int {
	if solveIdx < 0 || solveIdx >= len(s.localIdx) {
		return -1
	}
	return s.localIdx[solveIdx]
}

// NodeIndex maps a solve index to the local node index, or -1.
func (s *RigidBodySolver) NodeIndex(solveIdx int) int {
	if solveIdx < 0 || solveIdx >= len(s.nodeIdx) {
		return -1
	}
	return s.nodeIdx[solveIdx]
}

// analyze rebuilds the body and node lists in solve index order.
func (s *RigidBodySolver) analyze(p *Problem) {
	s.bodies = s.bodies[:0]
	s.nodes = s.nodes[:0]
	s.localIdx = slices.Grow(s.localIdx[:0], p.NumActive)[:p.NumActive]
	s.nodeIdx = slices.Grow(s.nodeIdx[:0], p.NumActive)[:p.NumActive]
	goff, loff, noff := 0, 0, 0
	for i := 0; i < p.NumActive; i++ {
		n := p.Sizes[i]
		s.localIdx[i], s.nodeIdx[i] = -1, -1
		switch {
		case n >= minRigidSize:
			s.localIdx[i] = len(s.bodies)
			s.bodies = append(s.bodies, bodyInfo{solveIdx: i, size: n, globalOff: goff, localOff: loff})
			loff += n
		case n > 0:
			s.nodeIdx[i] = len(s.nodes)
			s.nodes = append(s.nodes, bodyInfo{solveIdx: i, size: n, globalOff: goff, localOff: noff})
			noff += n
		}
		goff += n
	}
	for k := range s.nodes {
		s.nodes[k].localOff += loff
	}
	s.localSize = loff
	s.sysSize = loff + noff
	s.globalSize = goff
	s.factored = false
	s.stats.Analyses++
	s.log.V(1).Info("subsystem analyzed", "bodies", len(s.bodies), "nodes", len(s.nodes), "size", s.sysSize, "version", s.structure.Value())
}

// invertNodes inverts the diagonal mass block of every node.
func (s *RigidBodySolver) invertNodes(p *Problem, mode string) error {
	s.nodeInv = s.nodeInv[:0]
	for _, b := range s.nodes {
		blk := p.M.Block(b.solveIdx, b.solveIdx)
		if blk == nil {
			return &dynamo.SolveError{Mode: mode, Wrapped: dynamo.ErrSingularSystem}
		}
		var inv mat.Dense
		if err := inv.Inverse(blk); err != nil {
			return &dynamo.SolveError{Mode: mode, Wrapped: dynamo.ErrSingularSystem}
		}
		s.nodeInv = append(s.nodeInv, &inv)
	}
	return nil
}

func (s *RigidBodySolver) prepare(p *Problem, mode string) error {
	if s.structure.Update(p.M, p.GT, p.NT) || len(s.localIdx) != p.NumActive {
		s.analyze(p)
	}
	if err := s.invertNodes(p, mode); err != nil {
		return err
	}
	if s.localSize == 0 {
		return nil
	}

	n := s.localSize
	vals := make([]float64, n*n)
	for _, bi := range s.bodies {
		for _, bj := range s.bodies {
			blk := p.M.Block(bi.solveIdx, bj.solveIdx)
			if blk == nil {
				continue
			}
			for r := 0; r < bi.size; r++ {
				for c := 0; c < bj.size; c++ {
					vals[(bi.localOff+r)*n+bj.localOff+c] = blk.At(r, c)
				}
			}
		}
	}
	if s.factored && slices.Equal(vals, s.massVals) {
		return nil
	}

	sym := mat.NewSymDense(n, nil)
	for r := 0; r < n; r++ {
		for c := r; c < n; c++ {
			sym.SetSym(r, c, 0.5*(vals[r*n+c]+vals[c*n+r]))
		}
	}
	if ok := s.chol.Factorize(sym); !ok {
		s.factored = false
		return &dynamo.SolveError{Mode: mode, Wrapped: dynamo.ErrSingularSystem}
	}
	s.massVals = vals
	s.factored = true
	s.stats.Factorizations++
	s.log.V(2).Info("local mass factored", "size", n)
	return nil
}

// rowOffset returns the local row offset of a solve index, or -1 for
// inactive components.
func (s *RigidBodySolver) rowOffset(solveIdx int) int {
	if li := s.LocalIndex(solveIdx); li >= 0 {
		return s.bodies[li].localOff
	}
	if ni := s.NodeIndex(solveIdx); ni >= 0 {
		return s.nodes[ni].localOff
	}
	return -1
}

// localJ extracts the active rows of T as a dense sysSize x T.Cols() matrix,
// rigid bodies first and nodes after.
func (s *RigidBodySolver) localJ(T *matrix.SparseBlock) *mat.Dense {
	if T == nil || T.Cols() == 0 || s.sysSize == 0 {
		return nil
	}
	J := mat.NewDense(s.sysSize, T.Cols(), nil)
	for bj := 0; bj < T.NumBlockCols(); bj++ {
		co := T.ColOffset(bj)
		for _, bi := range T.ColBlocks(bj) {
			ro := s.rowOffset(bi)
			if ro < 0 {
				continue
			}
			blk := T.Block(bi, bj)
			r, c := blk.Dims()
			for i := 0; i < r; i++ {
				for k := 0; k < c; k++ {
					J.Set(ro+i, co+k, blk.At(i, k))
				}
			}
		}
	}
	return J
}

func (s *RigidBodySolver) gather(global []float64) *mat.VecDense {
	v := mat.NewVecDense(s.sysSize, nil)
	for _, list := range [][]bodyInfo{s.bodies, s.nodes} {
		for _, b := range list {
			for k := 0; k < b.size; k++ {
				v.SetVec(b.localOff+k, global[b.globalOff+k])
			}
		}
	}
	return v
}

func (s *RigidBodySolver) scatterAdd(global []float64, local *mat.VecDense) {
	for _, list := range [][]bodyInfo{s.bodies, s.nodes} {
		for _, b := range list {
			for k := 0; k < b.size; k++ {
				global[b.globalOff+k] += local.AtVec(b.localOff + k)
			}
		}
	}
}

func (s *RigidBodySolver) checkSizes(p *Problem, mode string) error {
	n := 0
	for _, sz := range p.Sizes[:p.NumActive] {
		n += sz
	}
	if len(p.Vel) != n || (p.Force != nil && len(p.Force) != n) {
		return &dynamo.SolveError{Mode: mode, Wrapped: dynamo.ErrDimensionMismatch}
	}
	return nil
}

// Accelerate returns v + h M^-1 f for the active components. Rigid bodies use
// the factored local mass; nodes use their inverted diagonal block.
func (s *RigidBodySolver) Accelerate(p *Problem) (dynamo.State, error) {
	if err := s.checkSizes(p, "accelerate"); err != nil {
		return nil, err
	}
	if err := s.prepare(p, "accelerate"); err != nil {
		return nil, err
	}
	v := p.Vel.Clone()
	if p.Force == nil {
		return v, nil
	}
	if s.localSize > 0 {
		var dv mat.VecDense
		f := s.gather(p.Force).SliceVec(0, s.localSize)
		if err := s.chol.SolveVecTo(&dv, f); err != nil {
			return nil, &dynamo.SolveError{Mode: "accelerate", Wrapped: dynamo.ErrSingularSystem}
		}
		for _, b := range s.bodies {
			for k := 0; k < b.size; k++ {
				v[b.globalOff+k] += p.H * dv.AtVec(b.localOff+k)
			}
		}
	}
	for k, b := range s.nodes {
		var dv mat.VecDense
		dv.MulVec(s.nodeInv[k], mat.NewVecDense(b.size, p.Force[b.globalOff:b.globalOff+b.size]))
		for i := 0; i < b.size; i++ {
			v[b.globalOff+i] += p.H * dv.AtVec(i)
		}
	}
	return v, nil
}

// system is the dense mixed LCP for one solve.
type system struct {
	J *mat.Dense // sysSize x m
	W *mat.Dense // M^-1 J
	A *mat.Dense // J^T W + R
}

func (s *RigidBodySolver) buildSystem(Js ...*mat.Dense) (*system, error) {
	m := 0
	for _, J := range Js {
		if J != nil {
			_, c := J.Dims()
			m += c
		}
	}
	if m == 0 || s.sysSize == 0 {
		return &system{}, nil
	}
	J := mat.NewDense(s.sysSize, m, nil)
	off := 0
	for _, Jk := range Js {
		if Jk == nil {
			continue
		}
		_, c := Jk.Dims()
		J.Slice(0, s.sysSize, off, off+c).(*mat.Dense).Copy(Jk)
		off += c
	}
	W := mat.NewDense(s.sysSize, m, nil)
	if s.localSize > 0 {
		var Wr mat.Dense
		if err := s.chol.SolveTo(&Wr, J.Slice(0, s.localSize, 0, m)); err != nil {
			return nil, dynamo.ErrSingularSystem
		}
		W.Slice(0, s.localSize, 0, m).(*mat.Dense).Copy(&Wr)
	}
	for k, b := range s.nodes {
		rows := J.Slice(b.localOff, b.localOff+b.size, 0, m)
		W.Slice(b.localOff, b.localOff+b.size, 0, m).(*mat.Dense).Mul(s.nodeInv[k], rows)
	}
	var A mat.Dense
	A.Mul(J.T(), W)
	return &system{J: J, W: W, A: &A}, nil
}

// rowTerms returns the regularization and target of a compliant row for
// step h: J v + R z = b.
func rowTerms(info mech.ConstraintInfo, h float64) (r, b float64) {
	if info.Compliance <= 0 || h <= 0 {
		return 0, 0
	}
	den := h + info.Compliance*info.Damping
	return info.Compliance / (h * den), -info.Dist / den
}

func (s *RigidBodySolver) velocityProblem(sys *system, vstar *mat.VecDense, p *Problem, fr []mech.FrictionInfo, fsizes []int, bound []float64) *lcp {
	nb, nu := p.numBilateral(), p.numUnilateral()
	_, m := sys.A.Dims()
	l := newLCP(sys.A, nb, nu)

	var jv mat.VecDense
	jv.MulVec(sys.J.T(), vstar)
	for i := 0; i < m; i++ {
		l.q[i] = jv.AtVec(i)
	}
	for i := 0; i < nb; i++ {
		r, b := rowTerms(p.GInfo[i], p.H)
		l.addRow(i, r, b)
	}
	for i := 0; i < nu; i++ {
		r, b := rowTerms(p.NInfo[i], p.H)
		l.addRow(nb+i, r, b)
	}
	off := nb + nu
	for k := range fr {
		l.sets = append(l.sets, frictionSet{off: off, size: fsizes[k], bound: bound[k]})
		off += fsizes[k]
	}
	l.markEmpty(sys.J)
	return l
}

func (s *RigidBodySolver) maxIterations() int {
	if s.cfg.SolverIterations > 0 {
		return s.cfg.SolverIterations
	}
	return config.DefaultSolverIterations
}

func (s *RigidBodySolver) tolerance() float64 {
	if s.cfg.SolverTol > 0 {
		return s.cfg.SolverTol
	}
	return config.DefaultSolverTol
}

func warm(z []float64, off int, src []float64, n int) {
	if len(src) == n {
		copy(z[off:off+n], src)
	}
}

// ProjectVelocity makes the velocities in p satisfy the bilateral and
// unilateral constraints. No external force is applied.
func (s *RigidBodySolver) ProjectVelocity(p *Problem) (*Solution, error) {
	if err := s.checkSizes(p, "velocity"); err != nil {
		return nil, err
	}
	if err := s.prepare(p, "velocity"); err != nil {
		return nil, err
	}
	return s.solveVelocity(p, p.Vel, nil, nil)
}

func (s *RigidBodySolver) solveVelocity(p *Problem, vel dynamo.State, DT *matrix.SparseBlock, fr []mech.FrictionInfo, warmZ ...[]float64) (*Solution, error) {
	nb, nu := p.numBilateral(), p.numUnilateral()
	nf := 0
	if DT != nil {
		nf = DT.Cols()
	}
	sol := &Solution{
		Vel:    vel.Clone(),
		Lambda: make([]float64, nb),
		Theta:  make([]float64, nu),
		Phi:    make([]float64, nf),
	}
	sys, err := s.buildSystem(s.localJ(p.GT), s.localJ(p.NT), s.localJ(DT))
	if err != nil {
		return nil, &dynamo.SolveError{Mode: "velocity", Wrapped: err}
	}
	if sys.A == nil {
		return sol, nil
	}

	var fsizes []int
	var bound []float64
	if DT != nil {
		for bj := 0; bj < DT.NumBlockCols(); bj++ {
			fsizes = append(fsizes, DT.ColSize(bj))
		}
		for _, f := range fr {
			src := warmZ[1]
			if f.Bilateral {
				src = warmZ[0]
			}
			bound = append(bound, f.Mu*math.Abs(src[f.ContactIdx]))
		}
	}

	vstar := s.gather(vel)
	l := s.velocityProblem(sys, vstar, p, fr, fsizes, bound)
	if len(warmZ) == 2 {
		warm(l.z, 0, warmZ[0], nb)
		warm(l.z, nb, warmZ[1], nu)
	} else {
		warm(l.z, 0, p.Lambda, nb)
		warm(l.z, nb, p.Theta, nu)
	}
	sol.Iterations = l.solve(s.maxIterations(), s.tolerance())
	s.stats.Solves++

	copy(sol.Lambda, l.z[:nb])
	copy(sol.Theta, l.z[nb:nb+nu])
	copy(sol.Phi, l.z[nb+nu:])

	var dv mat.VecDense
	dv.MulVec(sys.W, mat.NewVecDense(len(l.z), l.z))
	s.scatterAdd(sol.Vel, &dv)
	return sol, nil
}

// ProjectFriction solves in two passes. The first pass ignores friction. The
// friction sets are then built from its impulses and the second pass
// re-solves from the original velocity, with the contact impulses of the
// first pass as warm start and each friction set bounded by mu times the
// magnitude of its first-pass contact impulse.
func (s *RigidBodySolver) ProjectFriction(p *Problem, build FrictionBuilder) (*Solution, error) {
	first, err := s.ProjectVelocity(p)
	if err != nil {
		return nil, err
	}
	if build == nil {
		return first, nil
	}
	DT, fr := build(first.Lambda, first.Theta)
	if s.friction.Update(DT) {
		s.log.V(1).Info("friction structure changed", "version", s.friction.Value())
	}
	if DT == nil || DT.Cols() == 0 {
		return first, nil
	}
	if len(fr) != DT.NumBlockCols() {
		panic("solver: friction info count does not match friction sets")
	}

	second, err := s.solveVelocity(p, p.Vel, DT, fr, first.Lambda, first.Theta)
	if err != nil {
		return nil, err
	}
	second.Iterations += first.Iterations
	return second, nil
}

// ProjectPosition computes a velocity-space displacement Dq that removes
// constraint violations: J^T Dq + dist = 0 for bilateral rows and >= 0 for
// unilateral ones. Compliant rows are left alone.
func (s *RigidBodySolver) ProjectPosition(p *Problem) (*Solution, error) {
	if err := s.checkSizes(p, "position"); err != nil {
		return nil, err
	}
	if err := s.prepare(p, "position"); err != nil {
		return nil, err
	}
	nb, nu := p.numBilateral(), p.numUnilateral()
	sol := &Solution{
		Dq:     dynamo.NewState(len(p.Vel)),
		Lambda: make([]float64, nb),
		Theta:  make([]float64, nu),
	}
	sys, err := s.buildSystem(s.localJ(p.GT), s.localJ(p.NT))
	if err != nil {
		return nil, &dynamo.SolveError{Mode: "position", Wrapped: err}
	}
	if sys.A == nil {
		return sol, nil
	}

	l := newLCP(sys.A, nb, nu)
	for i := 0; i < nb; i++ {
		l.q[i] = p.GInfo[i].Dist
		l.empty[i] = p.GInfo[i].Compliance > 0
	}
	for i := 0; i < nu; i++ {
		l.q[nb+i] = p.NInfo[i].Dist
		l.empty[nb+i] = p.NInfo[i].Compliance > 0
	}
	l.markEmpty(sys.J)
	sol.Iterations = l.solve(s.maxIterations(), s.tolerance())
	s.stats.Solves++

	copy(sol.Lambda, l.z[:nb])
	copy(sol.Theta, l.z[nb:])
	var dq mat.VecDense
	dq.MulVec(sys.W, mat.NewVecDense(len(l.z), l.z))
	s.scatterAdd(sol.Dq, &dq)
	return sol, nil
}
