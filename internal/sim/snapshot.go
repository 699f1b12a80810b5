package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/san-kum/mechsim/internal/contact"
	"github.com/san-kum/mechsim/internal/dynamo"
)

// Snapshot is the restorable state of a world: component positions and
// velocities, the handler table and the clock.
type Snapshot struct {
	Time     float64
	Steps    int
	State    dynamo.State
	Handlers []contact.HandlerRecord
	layout   int
	colls    int
}

func (w *World) stateSize() int {
	n := 0
	for _, c := range w.model.Components() {
		n += len(c.Pos) + len(c.Vel)
	}
	return n
}

// State flattens the positions and velocities of every component.
func (w *World) State() dynamo.State {
	return w.fillState(dynamo.NewState(w.stateSize()))
}

func (w *World) fillState(s dynamo.State) dynamo.State {
	off := 0
	for _, c := range w.model.Components() {
		off += copy(s[off:], c.Pos)
		off += copy(s[off:], c.Vel)
	}
	return s
}

func (w *World) statePool() *StatePool {
	if n := w.stateSize(); w.pool == nil || w.pool.Size() != n {
		w.pool = NewStatePool(n)
	}
	return w.pool
}

func (w *World) Snapshot() *Snapshot {
	return &Snapshot{
		Time:     w.time,
		Steps:    w.steps,
		State:    w.fillState(w.statePool().Get()),
		Handlers: w.table.GetState(),
		layout:   w.stateSize(),
		colls:    len(w.colls),
	}
}

// Release returns the snapshot's buffer to the world's pool. The snapshot
// must not be used afterwards.
func (w *World) Release(s *Snapshot) {
	if w.pool != nil {
		w.pool.Put(s.State)
	}
	s.State = nil
}

// Restore puts the world back into the state recorded by s. Handlers are
// rebuilt with their behaviors resolved again, so pair overrides set since
// the snapshot apply.
func (w *World) Restore(s *Snapshot) error {
	if s.layout != w.stateSize() || s.colls != len(w.colls) || len(s.State) != s.layout {
		return dynamo.ErrStateMismatch
	}
	off := 0
	for _, c := range w.model.Components() {
		off += copy(c.Pos, s.State[off:off+len(c.Pos)])
		off += copy(c.Vel, s.State[off:off+len(c.Vel)])
	}
	w.table.SetState(s.Handlers, w.ResolveBehavior)
	for _, h := range w.table.CollectHandlers(nil) {
		w.tune(h)
	}
	w.time = s.Time
	w.steps = s.Steps
	w.model.UpdateSolveIndices()
	w.model.UpdateAttachmentPosStates()
	w.model.UpdateAttachmentVelStates()
	return nil
}

func retryable(err error) bool {
	return errors.Is(err, dynamo.ErrSingularSystem) || errors.Is(err, dynamo.ErrInvalidState)
}

// Advance takes one step of the configured size. When the step fails with a
// singular system or an invalid state, the world is restored and the step is
// retried with half the size, up to MaxRetries times and never below MinDt.
// It returns the time actually advanced.
func (w *World) Advance(ctx context.Context) (float64, error) {
	h := w.cfg.Dt
	snap := w.Snapshot()
	defer w.Release(snap)

	maxRetries := w.cfg.Engine.MaxRetries
	retries := 0
	for {
		err := w.Step(ctx, h)
		if err == nil {
			w.stats.Retries = retries
			return h, nil
		}
		if !retryable(err) {
			return 0, err
		}
		if rerr := w.Restore(snap); rerr != nil {
			return 0, fmt.Errorf("restore after failed step: %w", rerr)
		}
		retries++
		h /= 2
		if retries > maxRetries || h < w.cfg.Engine.MinDt {
			return 0, &dynamo.SolveError{Mode: "step", Step: w.steps, Time: w.time, Wrapped: fmt.Errorf("%w: %v", dynamo.ErrStepTooSmall, err)}
		}
		w.log.Info("retrying step", "t", w.time, "dt", h, "retry", retries, "cause", err.Error())
	}
}

// StateLabels names the entries of State, e.g. "hub.p0" or "hub.v5".
func (w *World) StateLabels() []string {
	labels := make([]string, 0, w.stateSize())
	for _, c := range w.model.Components() {
		for i := range c.Pos {
			labels = append(labels, fmt.Sprintf("%s.p%d", c.Name, i))
		}
		for i := range c.Vel {
			labels = append(labels, fmt.Sprintf("%s.v%d", c.Name, i))
		}
	}
	return labels
}
