package contact

import (
	"fmt"
	"io"

	"github.com/go-logr/logr"

	"github.com/san-kum/mechsim/internal/mech"
)

// anchor holds the handlers of one collidable: row lists those where it has
// the lower index, col those where it has the higher one. A handler between
// a collidable and itself appears only in row.
type anchor struct {
	coll Collidable
	row  []int
	col  []int
}

type entry struct {
	h      *Handler
	lo, hi int
}

// Table is the sparse symmetric relation from unordered collidable pairs to
// their handler. Handlers live in one arena; anchors keep index lists into
// it, so lookup costs the degree of the lower-indexed collidable.
type Table struct {
	model   *mech.Model
	anchors []anchor
	entries []entry
	log     logr.Logger
}

// NewTable creates a table over collidables. A collidable's index is its
// position in the list.
func NewTable(m *mech.Model, collidables []Collidable) *Table {
	t := &Table{model: m, log: logr.Discard()}
	t.setAnchors(collidables)
	return t
}

func (t *Table) SetLogger(log logr.Logger) {
	t.log = log
}

func (t *Table) setAnchors(collidables []Collidable) {
	t.anchors = make([]anchor, len(collidables))
	for i, c := range collidables {
		t.anchors[i].coll = c
	}
}

func (t *Table) NumCollidables() int { return len(t.anchors) }

func (t *Table) Collidable(i int) Collidable { return t.anchors[i].coll }

// IndexOf returns the index of c, or -1.
func (t *Table) IndexOf(c Collidable) int {
	for i := range t.anchors {
		if t.anchors[i].coll == c {
			return i
		}
	}
	return -1
}

func (t *Table) checkIndex(i int) {
	if i < 0 || i >= len(t.anchors) {
		panic(fmt.Sprintf("contact: collidable index %d out of range [0,%d)", i, len(t.anchors)))
	}
}

// Put creates the handler for the pair (a, b) and returns it. The handler's
// first collidable is a. Putting a pair that already has a handler, in either
// order, panics.
func (t *Table) Put(a, b int, beh Behavior, src BehaviorSource) *Handler {
	t.checkIndex(a)
	t.checkIndex(b)
	t.checkAbsent(a, b)
	h := NewHandler(t.model, t.anchors[a].coll, t.anchors[b].coll, beh, src)
	h.SetLogger(t.log)
	t.insert(h, a, b)
	t.log.V(1).Info("handler created", "a", h.c0.Name(), "b", h.c1.Name())
	return h
}

func (t *Table) checkAbsent(a, b int) {
	if t.Get(a, b) != nil {
		panic(fmt.Sprintf("contact: pair (%s, %s) already has a handler",
			t.anchors[a].coll.Name(), t.anchors[b].coll.Name()))
	}
}

func (t *Table) insert(h *Handler, a, b int) {
	lo, hi := min(a, b), max(a, b)
	k := len(t.entries)
	t.entries = append(t.entries, entry{h: h, lo: lo, hi: hi})
	t.anchors[lo].row = append(t.anchors[lo].row, k)
	if hi != lo {
		t.anchors[hi].col = append(t.anchors[hi].col, k)
	}
}

// Get returns the handler for the unordered pair {a, b}, or nil.
func (t *Table) Get(a, b int) *Handler {
	t.checkIndex(a)
	t.checkIndex(b)
	lo, hi := min(a, b), max(a, b)
	for _, k := range t.anchors[lo].row {
		if t.entries[k].hi == hi {
			return t.entries[k].h
		}
	}
	return nil
}

// Handlers returns the handlers involving collidable i.
func (t *Table) Handlers(i int) []*Handler {
	t.checkIndex(i)
	a := &t.anchors[i]
	out := make([]*Handler, 0, len(a.row)+len(a.col))
	for _, k := range a.row {
		out = append(out, t.entries[k].h)
	}
	for _, k := range a.col {
		out = append(out, t.entries[k].h)
	}
	return out
}

// CollectHandlers appends every handler in creation order.
func (t *Table) CollectHandlers(dst []*Handler) []*Handler {
	for _, e := range t.entries {
		dst = append(dst, e.h)
	}
	return dst
}

func (t *Table) SetHandlerActivity(active bool) {
	for _, e := range t.entries {
		e.h.active = active
	}
}

func (t *Table) Size() int { return len(t.entries) }

// RemoveInactiveHandlers drops inactive handlers and rebuilds the anchor
// lists in one pass.
func (t *Table) RemoveInactiveHandlers() int {
	kept := t.entries[:0]
	removed := 0
	for _, e := range t.entries {
		if e.h.active {
			kept = append(kept, e)
		} else {
			removed++
		}
	}
	for i := len(kept); i < len(t.entries); i++ {
		t.entries[i] = entry{}
	}
	t.entries = kept
	if removed > 0 {
		t.relink()
		t.log.V(1).Info("handlers pruned", "removed", removed, "size", len(kept))
	}
	return removed
}

func (t *Table) relink() {
	for i := range t.anchors {
		t.anchors[i].row = t.anchors[i].row[:0]
		t.anchors[i].col = t.anchors[i].col[:0]
	}
	for k, e := range t.entries {
		t.anchors[e.lo].row = append(t.anchors[e.lo].row, k)
		if e.hi != e.lo {
			t.anchors[e.hi].col = append(t.anchors[e.hi].col, k)
		}
	}
}

// Reinitialize switches the table to a new collidable list. Handlers between
// two collidables present in both lists are kept, with their state, and
// remapped to the new indices; handlers touching a removed collidable are
// deactivated, and all inactive handlers are then pruned.
func (t *Table) Reinitialize(collidables []Collidable) {
	newIndex := make(map[Collidable]int, len(collidables))
	for i, c := range collidables {
		newIndex[c] = i
	}
	for k := range t.entries {
		e := &t.entries[k]
		lo, okLo := newIndex[t.anchors[e.lo].coll]
		hi, okHi := newIndex[t.anchors[e.hi].coll]
		if !okLo || !okHi {
			e.h.active = false
			continue
		}
		e.lo, e.hi = min(lo, hi), max(lo, hi)
	}
	t.setAnchors(collidables)
	t.RemoveInactiveHandlers()
	t.relink()
}

// HandlerRecord is the checkpointed form of one handler. IndexA and IndexB
// refer to the collidable list at the time of the checkpoint and are only
// meaningful against that same list.
type HandlerRecord struct {
	IndexA int
	IndexB int
	Source BehaviorSource
	State  HandlerState
}

func (t *Table) GetState() []HandlerRecord {
	recs := make([]HandlerRecord, 0, len(t.entries))
	for _, e := range t.entries {
		a, b := e.lo, e.hi
		if t.anchors[a].coll != e.h.c0 {
			a, b = b, a
		}
		recs = append(recs, HandlerRecord{
			IndexA: a,
			IndexB: b,
			Source: e.h.source,
			State:  e.h.GetState(),
		})
	}
	return recs
}

// SetState replaces all handlers with those in recs, resolving behaviors
// through resolve. Indices out of range and repeated pairs panic.
func (t *Table) SetState(recs []HandlerRecord, resolve BehaviorResolver) {
	t.entries = t.entries[:0]
	t.relink()
	for _, r := range recs {
		t.checkIndex(r.IndexA)
		t.checkIndex(r.IndexB)
		t.checkAbsent(r.IndexA, r.IndexB)
		c0, c1 := t.anchors[r.IndexA].coll, t.anchors[r.IndexB].coll
		h := NewHandler(t.model, c0, c1, resolve(r.Source, c0, c1), r.Source)
		h.SetLogger(t.log)
		h.SetState(r.State)
		t.insert(h, r.IndexA, r.IndexB)
	}
}

// Dump writes a readable listing of every handler and its contacts.
func (t *Table) Dump(w io.Writer) error {
	for _, r := range t.GetState() {
		h := t.Get(r.IndexA, r.IndexB)
		if _, err := fmt.Fprintf(w, "%s/%s [%d,%d] source=%s active=%v\n",
			h.c0.Name(), h.c1.Name(), r.IndexA, r.IndexB, r.Source, h.active); err != nil {
			return err
		}
		if err := dumpConstraints(w, "bil", r.State.Bilaterals); err != nil {
			return err
		}
		if err := dumpConstraints(w, "uni", r.State.Unilaterals); err != nil {
			return err
		}
	}
	return nil
}

func dumpConstraints(w io.Writer, kind string, cs []ConstraintState) error {
	for _, s := range cs {
		_, err := fmt.Fprintf(w, "  %s %s-%s dist=%.6f n=(%.4f,%.4f,%.4f) lam=%.6f phi=(%.6f,%.6f) active=%v\n",
			kind, s.Point0, s.Point1, s.Dist, s.Normal[0], s.Normal[1], s.Normal[2],
			s.Lambda, s.Phi[0], s.Phi[1], s.Active)
		if err != nil {
			return err
		}
	}
	return nil
}
