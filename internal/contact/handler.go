package contact

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/go-logr/logr"

	"github.com/san-kum/mechsim/internal/dynamo"
	"github.com/san-kum/mechsim/internal/matrix"
	"github.com/san-kum/mechsim/internal/mech"
)

// frictionChunk is the smallest number of contacts handed to one worker.
const frictionChunk = 32

type constraintKey struct {
	byPoint1 bool
	point    pointKey
}

// Handler owns the contact constraints between one pair of collidables and
// implements [mech.Constrainer] for them.
type Handler struct {
	c0, c1   Collidable
	behavior Behavior
	source   BehaviorSource
	model    *mech.Model
	log      logr.Logger
	active   bool

	bilaterals    map[constraintKey]*Constraint
	bilateralList []*Constraint
	unilaterals   []*Constraint

	friction     []*Constraint
	frictionCols []int

	lastContacts []Candidate
}

func NewHandler(m *mech.Model, c0, c1 Collidable, b Behavior, src BehaviorSource) *Handler {
	return &Handler{
		c0:         c0,
		c1:         c1,
		behavior:   b,
		source:     src,
		model:      m,
		log:        logr.Discard(),
		active:     true,
		bilaterals: make(map[constraintKey]*Constraint),
	}
}

func (h *Handler) SetLogger(log logr.Logger) {
	h.log = log.WithValues("pair", h.c0.Name()+"/"+h.c1.Name())
}

func (h *Handler) Collidable0() Collidable    { return h.c0 }
func (h *Handler) Collidable1() Collidable    { return h.c1 }
func (h *Handler) Behavior() Behavior         { return h.behavior }
func (h *Handler) SetBehavior(b Behavior)     { h.behavior = b }
func (h *Handler) Source() BehaviorSource     { return h.source }
func (h *Handler) IsActive() bool             { return h.active }
func (h *Handler) SetActive(active bool)      { h.active = active }
func (h *Handler) Unilaterals() []*Constraint { return h.unilaterals }

// Bilaterals returns the bilateral contacts in creation order.
func (h *Handler) Bilaterals() []*Constraint { return h.bilateralList }

// Constraints returns the active constraints of the current mode.
func (h *Handler) Constraints() []*Constraint {
	if h.behavior.Bilateral {
		return h.activeBilaterals()
	}
	return h.unilaterals
}

func (h *Handler) NumContacts() int { return len(h.Constraints()) }

func (h *Handler) activeBilaterals() []*Constraint {
	out := make([]*Constraint, 0, len(h.bilateralList))
	for _, c := range h.bilateralList {
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}

// identifyByPoint1 keys contacts by whichever side is built from vertices.
func (h *Handler) identifyByPoint1() bool {
	return !isDeformable(h.c0) && isDeformable(h.c1)
}

// Update rebuilds the constraints from this step's candidates and returns
// the maximum penetration depth.
func (h *Handler) Update(cands []Candidate) float64 {
	h.lastContacts = append(h.lastContacts[:0], cands...)
	if h.behavior.Bilateral {
		return h.updateBilaterals(cands)
	}
	return h.updateUnilaterals(cands)
}

func (h *Handler) refresh(c *Constraint, cand Candidate) {
	c.SetContactPoints(cand.Point0, cand.Point1)
	c.Normal = cand.Normal
	c.Dist = cand.Dist
	c.ContactArea = -1
	if cand.Area > 0 {
		c.ContactArea = cand.Area
	}
	c.AssignMasters(h.model, h.c0, h.c1)
}

func (h *Handler) updateBilaterals(cands []Candidate) float64 {
	for _, c := range h.bilateralList {
		c.Active = false
	}
	byPoint1 := h.identifyByPoint1()
	maxpen := 0.0
	for _, cand := range cands {
		c := h.getContact(cand, byPoint1)
		if c == nil {
			continue
		}
		c.Active = true
		maxpen = max(maxpen, -c.Dist)
	}
	h.removeInactiveContacts()
	return maxpen
}

// getContact returns the constraint to use for cand, or nil if the contact
// must stay disengaged. A contact whose impulse has turned negative is
// separating and is not re-activated; an engaged contact that separates
// faster than BreakSpeed is released; when several candidates map onto one
// contact the deepest wins.
func (h *Handler) getContact(cand Candidate, byPoint1 bool) *Constraint {
	c := NewConstraint(cand.Point0, cand.Point1, byPoint1)
	k := constraintKey{byPoint1, c.key()}
	prev, ok := h.bilaterals[k]
	if !ok {
		h.bilaterals[k] = c
		h.bilateralList = append(h.bilateralList, c)
		h.refresh(c, cand)
		return c
	}
	if prev.Lambda < 0 {
		h.log.V(2).Info("contact released", "point", prev.Point0.String(), "lambda", prev.Lambda)
		return nil
	}
	if prev.Active && prev.Dist <= cand.Dist {
		return nil
	}
	wasActive := prev.Active
	h.refresh(prev, cand)
	if !wasActive && h.behavior.BreakSpeed > 0 {
		if s := prev.NormalSpeed(h.model); s > h.behavior.BreakSpeed {
			h.log.V(2).Info("contact broken", "point", prev.Point0.String(), "speed", s)
			return nil
		}
	}
	return prev
}

func (h *Handler) removeInactiveContacts() {
	kept := h.bilateralList[:0]
	for _, c := range h.bilateralList {
		if c.Active {
			kept = append(kept, c)
			continue
		}
		delete(h.bilaterals, constraintKey{c.identifyByPoint1, c.key()})
	}
	for i := len(kept); i < len(h.bilateralList); i++ {
		h.bilateralList[i] = nil
	}
	h.bilateralList = kept
}

func (h *Handler) updateUnilaterals(cands []Candidate) float64 {
	byPoint1 := h.identifyByPoint1()
	prev := make(map[constraintKey]*Constraint, len(h.unilaterals))
	for _, c := range h.unilaterals {
		prev[constraintKey{c.identifyByPoint1, c.key()}] = c
	}

	next := make([]*Constraint, 0, len(cands))
	seen := make(map[constraintKey]*Constraint, len(cands))
	for _, cand := range cands {
		c := NewConstraint(cand.Point0, cand.Point1, byPoint1)
		k := constraintKey{byPoint1, c.key()}
		if cur, ok := seen[k]; ok {
			if cur.Dist > cand.Dist {
				h.refresh(cur, cand)
			}
			continue
		}
		if old, ok := prev[k]; ok {
			c = old
		}
		c.Active = true
		h.refresh(c, cand)
		seen[k] = c
		next = append(next, c)
	}

	if n := h.behavior.MaxUnilaterals; n > 0 && len(next) > n {
		sort.SliceStable(next, func(i, j int) bool { return next[i].Dist < next[j].Dist })
		next = next[:n]
	}
	h.unilaterals = next

	maxpen := 0.0
	for _, c := range next {
		maxpen = max(maxpen, -c.Dist)
	}
	return maxpen
}

func (h *Handler) BilateralSizes(sizes []int) []int {
	if !h.behavior.Bilateral {
		return sizes
	}
	for range h.activeBilaterals() {
		sizes = append(sizes, 1)
	}
	return sizes
}

func (h *Handler) info(c *Constraint) mech.ConstraintInfo {
	return mech.ConstraintInfo{
		Dist:       c.Dist + h.behavior.PenetrationTol,
		Compliance: h.behavior.Compliance,
		Damping:    h.behavior.Damping,
	}
}

func (h *Handler) BilateralInfo(infos []mech.ConstraintInfo) []mech.ConstraintInfo {
	if !h.behavior.Bilateral {
		return infos
	}
	for _, c := range h.activeBilaterals() {
		infos = append(infos, h.info(c))
	}
	return infos
}

func (h *Handler) addColumns(GT *matrix.SparseBlock, cons []*Constraint) {
	for _, c := range cons {
		bj := GT.AddCol(1)
		c.SolveIndex = GT.ColOffset(bj)
		c.AddConstraintBlocks(h.model, GT, bj)
	}
}

func (h *Handler) AddBilateralConstraints(GT *matrix.SparseBlock) {
	if h.behavior.Bilateral {
		h.addColumns(GT, h.activeBilaterals())
	}
}

func setImpulses(cons []*Constraint, lam []float64, idx int) int {
	for _, c := range cons {
		c.Lambda = lam[idx]
		idx++
	}
	return idx
}

func getImpulses(cons []*Constraint, lam []float64, idx int) int {
	for _, c := range cons {
		lam[idx] = c.Lambda
		idx++
	}
	return idx
}

func (h *Handler) SetBilateralImpulses(lam []float64, _ float64, idx int) int {
	if !h.behavior.Bilateral {
		return idx
	}
	return setImpulses(h.activeBilaterals(), lam, idx)
}

func (h *Handler) BilateralImpulses(lam []float64, idx int) int {
	if !h.behavior.Bilateral {
		return idx
	}
	return getImpulses(h.activeBilaterals(), lam, idx)
}

func (h *Handler) UnilateralSizes(sizes []int) []int {
	if h.behavior.Bilateral {
		return sizes
	}
	for range h.unilaterals {
		sizes = append(sizes, 1)
	}
	return sizes
}

func (h *Handler) UnilateralInfo(infos []mech.ConstraintInfo) []mech.ConstraintInfo {
	if h.behavior.Bilateral {
		return infos
	}
	for _, c := range h.unilaterals {
		infos = append(infos, h.info(c))
	}
	return infos
}

func (h *Handler) AddUnilateralConstraints(NT *matrix.SparseBlock) {
	if !h.behavior.Bilateral {
		h.addColumns(NT, h.unilaterals)
	}
}

func (h *Handler) SetUnilateralImpulses(the []float64, _ float64, idx int) int {
	if h.behavior.Bilateral {
		return idx
	}
	return setImpulses(h.unilaterals, the, idx)
}

func (h *Handler) UnilateralImpulses(the []float64, idx int) int {
	if h.behavior.Bilateral {
		return idx
	}
	return getImpulses(h.unilaterals, the, idx)
}

// MaxFrictionSets bounds the number of friction sets AddFrictionConstraints
// may append.
func (h *Handler) MaxFrictionSets() int {
	return len(h.Constraints())
}

// AddFrictionConstraints appends one friction set per contact. With pruning
// enabled, contacts whose friction bound mu*|lambda| is within the engine's
// FrictionTol get no columns at all, so the matrix structure changes rather
// than carrying zero blocks.
func (h *Handler) AddFrictionConstraints(DT *matrix.SparseBlock, infos []mech.FrictionInfo) []mech.FrictionInfo {
	h.friction = h.friction[:0]
	h.frictionCols = h.frictionCols[:0]
	mu := h.behavior.Friction
	cons := h.Constraints()
	if mu <= 0 {
		for _, c := range cons {
			c.Phi = [2]float64{}
		}
		return infos
	}
	cfg := h.model.Config
	kept := make([]*Constraint, 0, len(cons))
	for _, c := range cons {
		if cfg.FrictionPruning && mu*math.Abs(c.Lambda) <= cfg.FrictionTol {
			c.Phi = [2]float64{}
			continue
		}
		kept = append(kept, c)
	}
	h.computeFrictionDirs(kept, cfg.Parallel)
	for _, c := range kept {
		if h.behavior.Friction2D {
			infos = c.Add2DFriction(h.model, DT, infos, mu, h.behavior.Bilateral)
			h.frictionCols = append(h.frictionCols, 2)
		} else {
			infos = c.Add1DFriction(h.model, DT, infos, mu, h.behavior.Bilateral)
			h.frictionCols = append(h.frictionCols, 1)
		}
		h.friction = append(h.friction, c)
	}
	return infos
}

// computeFrictionDirs sets the stick direction of every constraint in cons.
// Each constraint only writes its own fields, so the loop may be split.
func (h *Handler) computeFrictionDirs(cons []*Constraint, parallel bool) {
	run := func(start, end int) {
		for _, c := range cons[start:end] {
			c.ComputeFrictionDir(h.model)
		}
	}
	if !parallel {
		run(0, len(cons))
		return
	}
	dynamo.ParallelFor(len(cons), frictionChunk, run)
}

// NumFrictionSets is the number of friction sets added by the last
// AddFrictionConstraints.
func (h *Handler) NumFrictionSets() int { return len(h.friction) }

func (h *Handler) SetFrictionImpulses(phi []float64, _ float64, idx int) int {
	for i, c := range h.friction {
		c.Phi = [2]float64{}
		for k := 0; k < h.frictionCols[i]; k++ {
			c.Phi[k] = phi[idx]
			idx++
		}
	}
	return idx
}

func (h *Handler) ZeroImpulses() {
	for _, c := range h.bilateralList {
		c.Lambda = 0
		c.Phi = [2]float64{}
	}
	for _, c := range h.unilaterals {
		c.Lambda = 0
		c.Phi = [2]float64{}
	}
}

// AutoComputeCompliance picks compliance and critical damping so that the
// pair settles at penetration tol under acceleration acc.
func (h *Handler) AutoComputeCompliance(acc, tol float64) {
	mass := collidableMass(h.model, h.c0) + collidableMass(h.model, h.c1)
	if mass <= 0 || acc <= 0 || tol <= 0 {
		return
	}
	const dampingRatio = 1.0
	h.behavior.Compliance = tol / (acc * mass)
	h.behavior.Damping = dampingRatio * 2 * math.Sqrt(mass/h.behavior.Compliance)
}

// HandlerState is the checkpointed contact set of a handler.
type HandlerState struct {
	Bilaterals  []ConstraintState
	Unilaterals []ConstraintState
}

func (h *Handler) GetState() HandlerState {
	var s HandlerState
	for _, c := range h.bilateralList {
		s.Bilaterals = append(s.Bilaterals, c.GetState())
	}
	for _, c := range h.unilaterals {
		s.Unilaterals = append(s.Unilaterals, c.GetState())
	}
	return s
}

// SetState replaces the contacts with those in s. Masters are reassigned
// against the handler's collidables.
func (h *Handler) SetState(s HandlerState) {
	h.bilaterals = make(map[constraintKey]*Constraint, len(s.Bilaterals))
	h.bilateralList = h.bilateralList[:0]
	h.unilaterals = h.unilaterals[:0]
	for _, cs := range s.Bilaterals {
		c := &Constraint{}
		c.SetState(cs)
		c.AssignMasters(h.model, h.c0, h.c1)
		h.bilaterals[constraintKey{c.identifyByPoint1, c.key()}] = c
		h.bilateralList = append(h.bilateralList, c)
	}
	for _, cs := range s.Unilaterals {
		c := &Constraint{}
		c.SetState(cs)
		c.AssignMasters(h.model, h.c0, h.c1)
		h.unilaterals = append(h.unilaterals, c)
	}
	h.friction = h.friction[:0]
	h.frictionCols = h.frictionCols[:0]
}

// LastContacts returns the candidates of the most recent Update. The slice
// must not be modified.
func (h *Handler) LastContacts() []Candidate {
	return h.lastContacts
}

// PenetrationRegion returns the deepest penetration among the current
// contacts and the centroid of their points.
func (h *Handler) PenetrationRegion() (depth float64, centroid mgl64.Vec3, n int) {
	for _, c := range h.Constraints() {
		depth = max(depth, -c.Dist)
		centroid = centroid.Add(c.Point0.Position.Add(c.Point1.Position).Mul(0.5))
		n++
	}
	if n > 0 {
		centroid = centroid.Mul(1 / float64(n))
	}
	return depth, centroid, n
}

// ContactArea sums the known contact areas, or returns -1 when none is
// known.
func (h *Handler) ContactArea() float64 {
	area, known := 0.0, false
	for _, c := range h.Constraints() {
		if c.ContactArea >= 0 {
			area += c.ContactArea
			known = true
		}
	}
	if !known {
		return -1
	}
	return area
}
