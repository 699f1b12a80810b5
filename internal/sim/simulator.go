package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/mechsim/internal/dynamo"
)

// Simulator runs a world for a fixed duration, feeding metrics and observers
// after every step.
type Simulator struct {
	world     *World
	metrics   []Metric
	observers []Observer
	// RecordEvery controls how often the flattened world state is kept in
	// the result; zero keeps none, one keeps every step.
	RecordEvery int
}

func New(w *World) *Simulator {
	return &Simulator{
		world:       w,
		metrics:     make([]Metric, 0),
		observers:   make([]Observer, 0),
		RecordEvery: 1,
	}
}

func (s *Simulator) World() *World          { return s.world }
func (s *Simulator) AddMetric(m Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer) { s.observers = append(s.observers, o) }

func (s *Simulator) validate() error {
	cfg := s.world.cfg
	if cfg.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %f", cfg.Dt)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", cfg.Duration)
	}
	return nil
}

func (s *Simulator) record(res *Result) {
	res.States = append(res.States, s.world.State())
	res.Times = append(res.Times, s.world.Time())
}

// Run advances the world until the configured duration has elapsed. On
// cancellation or a failed step the partial result is returned with the
// error.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	w := s.world
	cfg := w.cfg
	steps := int(math.Round(cfg.Duration / cfg.Dt))
	res := &Result{
		States:  make([]dynamo.State, 0, steps+1),
		Times:   make([]float64, 0, steps+1),
		Metrics: make(map[string]float64),
	}
	for _, m := range s.metrics {
		m.Reset()
	}
	if s.RecordEvery > 0 {
		s.record(res)
	}

	initialEnergy := w.Energy()
	end := w.Time() + cfg.Duration
	var runErr error
	for i := 0; w.Time() < end-0.5*cfg.Dt; i++ {
		if _, err := w.Advance(ctx); err != nil {
			runErr = err
			break
		}
		res.StepsTaken++
		res.Retries += w.stats.Retries

		for _, m := range s.metrics {
			m.Observe(w)
		}
		for _, obs := range s.observers {
			obs.OnStep(w)
		}
		if s.RecordEvery > 0 && (i+1)%s.RecordEvery == 0 {
			s.record(res)
		}
	}

	if initialEnergy != 0 {
		res.EnergyDrift = math.Abs(w.Energy()-initialEnergy) / math.Abs(initialEnergy)
	}
	for _, m := range s.metrics {
		res.Metrics[m.Name()] = m.Value()
	}
	return res, runErr
}

// RunWithCallback steps until the duration elapses or callback returns
// false.
func (s *Simulator) RunWithCallback(ctx context.Context, callback func(w *World) bool) error {
	if err := s.validate(); err != nil {
		return err
	}
	w := s.world
	end := w.Time() + w.cfg.Duration
	for w.Time() < end-0.5*w.cfg.Dt {
		if !callback(w) {
			return nil
		}
		if _, err := w.Advance(ctx); err != nil {
			return err
		}
		for _, m := range s.metrics {
			m.Observe(w)
		}
	}
	return nil
}
