// Package sim drives the constraint engine: it detects contacts, assembles
// the constraint system, hands the rigid part to the solver and integrates
// the result, with whole-step retry on solver failure.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/go-logr/logr"

	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/contact"
	"github.com/san-kum/mechsim/internal/dynamo"
	"github.com/san-kum/mechsim/internal/matrix"
	"github.com/san-kum/mechsim/internal/mech"
	"github.com/san-kum/mechsim/internal/solver"
)

// PairSource marks handlers whose behavior was set with SetPairBehavior.
const PairSource contact.BehaviorSource = "pair"

type pairKey struct{ lo, hi int }

func makePairKey(a, b int) pairKey { return pairKey{min(a, b), max(a, b)} }

type World struct {
	cfg      config.Config
	model    *mech.Model
	colls    []contact.Collidable
	table    *contact.Table
	detector Detector
	solver   *solver.RigidBodySolver
	joints   []mech.Constrainer
	pairs    map[pairKey]contact.Behavior
	behavior contact.Behavior
	log      logr.Logger

	time  float64
	steps int
	stats StepStats
	pool  *StatePool
}

// NewWorld wires a model and its collidables into a stepping world. The
// model's gravity and engine settings are taken from cfg.
func NewWorld(cfg config.Config, m *mech.Model, colls []contact.Collidable, det Detector) *World {
	m.Config = cfg.Engine
	m.Gravity = mgl64.Vec3{0, 0, cfg.Gravity}
	m.UpdateSolveIndices()
	w := &World{
		cfg:      cfg,
		model:    m,
		colls:    colls,
		table:    contact.NewTable(m, colls),
		detector: det,
		solver:   solver.New(cfg.Engine),
		pairs:    make(map[pairKey]contact.Behavior),
		behavior: contact.BehaviorFromConfig(cfg.Contact),
		log:      logr.Discard(),
	}
	m.UpdateAttachmentPosStates()
	m.UpdateAttachmentVelStates()
	return w
}

func (w *World) SetLogger(log logr.Logger) {
	w.log = log
	w.table.SetLogger(log.WithName("contact"))
	w.solver.SetLogger(log.WithName("solver"))
}

func (w *World) Config() config.Config             { return w.cfg }
func (w *World) Model() *mech.Model                { return w.model }
func (w *World) Table() *contact.Table             { return w.table }
func (w *World) Solver() *solver.RigidBodySolver   { return w.solver }
func (w *World) Collidables() []contact.Collidable { return w.colls }
func (w *World) Time() float64                     { return w.time }
func (w *World) Steps() int                        { return w.steps }
func (w *World) Stats() StepStats                  { return w.stats }

// AddJoint registers an external bilateral constraint provider.
func (w *World) AddJoint(j mech.Constrainer) {
	w.joints = append(w.joints, j)
}

// SetPairBehavior overrides the default contact behavior for the pair (a, b)
// of collidable indices. An existing handler is updated in place.
func (w *World) SetPairBehavior(a, b int, beh contact.Behavior) {
	w.pairs[makePairKey(a, b)] = beh
	if h := w.table.Get(a, b); h != nil {
		h.SetBehavior(beh)
		w.tune(h)
	}
}

// ResolveBehavior maps a handler source back to its behavior.
func (w *World) ResolveBehavior(src contact.BehaviorSource, c0, c1 contact.Collidable) contact.Behavior {
	if src == PairSource {
		a, b := w.table.IndexOf(c0), w.table.IndexOf(c1)
		if beh, ok := w.pairs[makePairKey(a, b)]; ok {
			return beh
		}
	}
	return w.behavior
}

func (w *World) tune(h *contact.Handler) {
	if !w.cfg.Contact.AutoCompliance {
		return
	}
	g := math.Abs(w.cfg.Gravity)
	if g == 0 {
		g = math.Abs(config.DefaultGravity)
	}
	h.AutoComputeCompliance(g, h.Behavior().PenetrationTol)
}

func fixed(c contact.Collidable) bool {
	return c.Frame() < 0 && c.NumVertices() == 0
}

// updateContacts runs detection over every pair of collidables, creates
// handlers for new contacts and prunes handlers left without any.
func (w *World) updateContacts() {
	w.table.SetHandlerActivity(false)
	w.stats.MaxPenetration = 0
	for i := range w.colls {
		for j := i + 1; j < len(w.colls); j++ {
			a, b := w.colls[i], w.colls[j]
			if fixed(a) && fixed(b) {
				continue
			}
			cands := w.detector.Detect(w.model, a, b)
			h := w.table.Get(i, j)
			if h == nil {
				if len(cands) == 0 {
					continue
				}
				src := contact.DefaultSource
				beh := w.behavior
				if pb, ok := w.pairs[makePairKey(i, j)]; ok {
					src, beh = PairSource, pb
				}
				h = w.table.Put(i, j, beh, src)
				w.tune(h)
			}
			pen := h.Update(cands)
			w.stats.MaxPenetration = max(w.stats.MaxPenetration, pen)
			h.SetActive(h.NumContacts() > 0)
		}
	}
	w.table.RemoveInactiveHandlers()
}

// constrainers lists the joints followed by the contact handlers, the order
// used for every column and impulse vector of a step.
func (w *World) constrainers() []mech.Constrainer {
	out := make([]mech.Constrainer, 0, len(w.joints)+w.table.Size())
	out = append(out, w.joints...)
	for _, h := range w.table.CollectHandlers(nil) {
		out = append(out, h)
	}
	return out
}

type assembly struct {
	cons  []mech.Constrainer
	sizes []int
	prob  *solver.Problem
}

func (w *World) assemble(h float64) *assembly {
	m := w.model
	cons := w.constrainers()
	sizes := m.VelSizes()
	na := m.NumActive()

	GT := matrix.NewSparseBlock(sizes, nil)
	NT := matrix.NewSparseBlock(sizes, nil)
	var ginfo, ninfo []mech.ConstraintInfo
	for _, c := range cons {
		c.AddBilateralConstraints(GT)
		ginfo = c.BilateralInfo(ginfo)
		c.AddUnilateralConstraints(NT)
		ninfo = c.UnilateralInfo(ninfo)
	}
	m.ReduceConstraints(GT)
	m.ReduceConstraints(NT)

	lam := make([]float64, GT.Cols())
	the := make([]float64, NT.Cols())
	li, ti := 0, 0
	for _, c := range cons {
		li = c.BilateralImpulses(lam, li)
		ti = c.UnilateralImpulses(the, ti)
	}

	return &assembly{
		cons:  cons,
		sizes: sizes,
		prob: &solver.Problem{
			Sizes:     sizes[:na],
			NumActive: na,
			M:         m.MassMatrix(),
			Vel:       m.VelocityVector(),
			Force:     m.ForceVector(),
			GT:        GT,
			GInfo:     ginfo,
			NT:        NT,
			NInfo:     ninfo,
			Lambda:    lam,
			Theta:     the,
			H:         h,
		},
	}
}

// frictionBuilder stores the first-pass impulses in the providers, so that
// friction bounds and pruning see them, and assembles the friction sets.
func (w *World) frictionBuilder(a *assembly) solver.FrictionBuilder {
	return func(lam, the []float64) (*matrix.SparseBlock, []mech.FrictionInfo) {
		li, ti := 0, 0
		for _, c := range a.cons {
			li = c.SetBilateralImpulses(lam, a.prob.H, li)
			ti = c.SetUnilateralImpulses(the, a.prob.H, ti)
		}
		DT := matrix.NewSparseBlock(a.sizes, nil)
		var infos []mech.FrictionInfo
		for _, c := range a.cons {
			infos = c.AddFrictionConstraints(DT, infos)
		}
		w.model.ReduceConstraints(DT)
		return DT, infos
	}
}

// Step advances the world by h: contact detection, force computation,
// unconstrained velocity update, velocity projection with friction,
// position integration and optional position correction.
func (w *World) Step(ctx context.Context, h float64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", dynamo.ErrContextCanceled, err)
	}
	m := w.model
	m.UpdateSolveIndices()
	m.UpdateAttachmentPosStates()
	m.UpdateAttachmentVelStates()
	w.updateContacts()
	m.ComputeForces()

	a := w.assemble(h)
	vstar, err := w.solver.Accelerate(a.prob)
	if err != nil {
		return w.stepError(err)
	}
	m.SetVelocityVector(vstar)
	m.UpdateAttachmentVelStates()
	a.prob.Vel = vstar

	sol, err := w.solver.ProjectFriction(a.prob, w.frictionBuilder(a))
	if err != nil {
		return w.stepError(err)
	}
	if !sol.Vel.IsValid() {
		return w.stepError(&dynamo.SolveError{Mode: "velocity", Wrapped: dynamo.ErrInvalidState})
	}
	w.storeImpulses(a, sol)

	m.SetVelocityVector(sol.Vel)
	m.UpdateAttachmentVelStates()
	m.AdvancePositions(h)

	if w.cfg.Engine.ProjectPositions {
		if err := w.projectPositions(a, sol.Vel); err != nil {
			return w.stepError(err)
		}
	}

	w.time += h
	w.steps++
	w.stats.Dt = h
	w.stats.Handlers = w.table.Size()
	w.stats.Bilaterals = len(sol.Lambda)
	w.stats.Unilaterals = len(sol.Theta)
	w.stats.Contacts = 0
	for _, hd := range w.table.CollectHandlers(nil) {
		w.stats.Contacts += hd.NumContacts()
	}
	w.stats.FrictionSets = 0
	for _, c := range a.cons {
		if hd, ok := c.(*contact.Handler); ok {
			w.stats.FrictionSets += hd.NumFrictionSets()
		}
	}
	w.stats.Iterations = sol.Iterations
	w.log.V(2).Info("step", "t", w.time, "contacts", w.stats.Contacts, "iterations", sol.Iterations)
	return nil
}

func (w *World) stepError(err error) error {
	var se *dynamo.SolveError
	if errors.As(err, &se) {
		se.Step = w.steps
		se.Time = w.time
		return se
	}
	return &dynamo.SolveError{Mode: "step", Step: w.steps, Time: w.time, Wrapped: err}
}

func (w *World) storeImpulses(a *assembly, sol *solver.Solution) {
	li, ti, fi := 0, 0, 0
	h := a.prob.H
	for _, c := range a.cons {
		li = c.SetBilateralImpulses(sol.Lambda, h, li)
		ti = c.SetUnilateralImpulses(sol.Theta, h, ti)
		fi = c.SetFrictionImpulses(sol.Phi, h, fi)
	}
}

// projectPositions removes the constraint violation remaining after the
// position update. Distances are predicted to first order from the solved
// velocity; the correction is repeated until no rigid row is violated by
// more than the solver tolerance or PosIterations is reached.
func (w *World) projectPositions(a *assembly, vel dynamo.State) error {
	m := w.model
	p := *a.prob
	p.GInfo = append([]mech.ConstraintInfo(nil), p.GInfo...)
	p.NInfo = append([]mech.ConstraintInfo(nil), p.NInfo...)
	p.Force = nil
	p.Lambda, p.Theta = nil, nil
	advanceInfo(p.GInfo, p.GT, vel, p.H)
	advanceInfo(p.NInfo, p.NT, vel, p.H)

	iters := w.cfg.Engine.PosIterations
	if iters <= 0 {
		iters = config.DefaultPosIterations
	}
	tol := w.behavior.PenetrationTol
	for it := 0; it < iters; it++ {
		if maxViolation(p.GInfo, true) <= tol && maxViolation(p.NInfo, false) <= tol {
			return nil
		}
		sol, err := w.solver.ProjectPosition(&p)
		if err != nil {
			return err
		}
		if sol.Dq.MaxAbs() == 0 {
			return nil
		}
		applyDisplacement(m, sol.Dq)
		advanceInfo(p.GInfo, p.GT, sol.Dq, 1)
		advanceInfo(p.NInfo, p.NT, sol.Dq, 1)
	}
	return nil
}

// advanceInfo adds s * J^T dx to the distance of every row.
func advanceInfo(infos []mech.ConstraintInfo, T *matrix.SparseBlock, dx dynamo.State, s float64) {
	if len(infos) == 0 {
		return
	}
	x := make([]float64, T.Rows())
	copy(x, dx)
	d := make([]float64, T.Cols())
	T.MulTransposeAdd(d, x)
	for i := range infos {
		infos[i].Dist += s * d[i]
	}
}

func maxViolation(infos []mech.ConstraintInfo, bilateral bool) float64 {
	v := 0.0
	for _, in := range infos {
		if in.Compliance > 0 {
			continue
		}
		d := -in.Dist
		if bilateral {
			d = math.Abs(in.Dist)
		}
		v = max(v, d)
	}
	return v
}

func applyDisplacement(m *mech.Model, dq dynamo.State) {
	sizes := m.VelSizes()
	offs := make([]int, m.NumActive())
	for i := 1; i < len(offs); i++ {
		offs[i] = offs[i-1] + sizes[i-1]
	}
	for _, c := range m.Components() {
		if c.IsActive() {
			o := offs[c.SolveIndex]
			c.ApplyDisplacement(dq[o : o+c.VelSize()])
		}
	}
	m.UpdateAttachmentPosStates()
}

// KineticEnergy of all moving components.
func (w *World) KineticEnergy() float64 {
	return w.model.KineticEnergy()
}

// PotentialEnergy under uniform gravity.
func (w *World) PotentialEnergy() float64 {
	e := 0.0
	for _, c := range w.model.Components() {
		if c.Status == mech.Parametric || c.Kind == mech.Generic {
			continue
		}
		e -= c.Mass * w.model.Gravity.Dot(c.Position())
	}
	return e
}

func (w *World) Energy() float64 {
	return w.KineticEnergy() + w.PotentialEnergy()
}
