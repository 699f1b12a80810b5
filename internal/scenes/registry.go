// Package scenes builds ready-to-run worlds by name.
package scenes

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/san-kum/mechsim/internal/collide"
	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/metrics"
	"github.com/san-kum/mechsim/internal/sim"
)

// Builder creates a world from a configuration. rng is seeded from the
// configuration, so a builder must draw every random quantity from it.
type Builder func(cfg config.Config, rng *rand.Rand) (*sim.World, error)

type Registry struct {
	scenes map[string]Builder
	descs  map[string]string
}

func NewRegistry() *Registry {
	r := &Registry{
		scenes: make(map[string]Builder),
		descs:  make(map[string]string),
	}
	r.Register("head_on", "two spheres colliding head on", HeadOn)
	r.Register("rain", "spheres dropped at random onto the ground", Rain)
	r.Register("tethered", "a jointed rigid hub carrying an attached vertex sheet", Tethered)
	r.Register("stack", "a column of spheres resting on the ground", Stack)
	return r
}

func (r *Registry) Register(name, desc string, b Builder) {
	r.scenes[name] = b
	r.descs[name] = desc
}

func (r *Registry) Describe(name string) string { return r.descs[name] }

// Build looks up cfg.Scene and builds it.
func (r *Registry) Build(cfg config.Config) (*sim.World, error) {
	b, ok := r.scenes[cfg.Scene]
	if !ok {
		return nil, fmt.Errorf("unknown scene: %s", cfg.Scene)
	}
	return b(cfg, rand.New(rand.NewSource(cfg.Seed)))
}

func (r *Registry) ListScenes() []string {
	names := make([]string, 0, len(r.scenes))
	for name := range r.scenes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMetrics returns fresh instances of the metrics reported by the CLI.
func (r *Registry) DefaultMetrics() []sim.Metric {
	return []sim.Metric{
		metrics.NewKineticEnergy(),
		metrics.NewEnergyDrift(),
		metrics.NewContactCount(),
		metrics.NewMaxPenetration(),
		metrics.NewStability(10 * config.DefaultPenetrationTol),
	}
}

func detector() collide.Detector {
	return collide.Detector{Margin: 1e-3}
}
