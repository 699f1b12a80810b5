package sim

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorldFactory builds an independent world for one ensemble member.
type WorldFactory func(seed int64) (*World, error)

// MetricFactory builds fresh metric instances for one ensemble member.
type MetricFactory func() []Metric

type Ensemble struct {
	build     WorldFactory
	metrics   MetricFactory
	numRuns   int
	seedStart int64
	// Workers bounds concurrent runs; zero means unbounded.
	Workers int
}

func NewEnsemble(build WorldFactory, metrics MetricFactory, numRuns int, seedStart int64) *Ensemble {
	return &Ensemble{build: build, metrics: metrics, numRuns: numRuns, seedStart: seedStart}
}

// Run executes every member concurrently. Worlds share nothing, so each
// run owns its model, table and solver. The first error cancels the rest.
func (e *Ensemble) Run(ctx context.Context) ([]*Result, error) {
	results := make([]*Result, e.numRuns)
	g, ctx := errgroup.WithContext(ctx)
	if e.Workers > 0 {
		g.SetLimit(e.Workers)
	}
	for i := 0; i < e.numRuns; i++ {
		g.Go(func() error {
			w, err := e.build(e.seedStart + int64(i))
			if err != nil {
				return err
			}
			s := New(w)
			s.RecordEvery = 0
			if e.metrics != nil {
				for _, m := range e.metrics() {
					s.AddMetric(m)
				}
			}
			results[i], err = s.Run(ctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
