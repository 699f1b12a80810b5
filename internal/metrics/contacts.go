package metrics

import "github.com/san-kum/mechsim/internal/sim"

// ContactCount averages the number of active contacts per step.
type ContactCount struct {
	name    string
	sum     float64
	samples int
}

func NewContactCount() *ContactCount {
	return &ContactCount{name: "contacts"}
}

func (c *ContactCount) Name() string {
	return c.name
}

func (c *ContactCount) Observe(w *sim.World) {
	c.sum += float64(w.Stats().Contacts)
	c.samples++
}

func (c *ContactCount) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ContactCount) Reset() {
	c.sum = 0
	c.samples = 0
}

// MaxPenetration is the deepest penetration seen during detection.
type MaxPenetration struct {
	name  string
	depth float64
}

func NewMaxPenetration() *MaxPenetration {
	return &MaxPenetration{name: "max_penetration"}
}

func (p *MaxPenetration) Name() string { return p.name }

func (p *MaxPenetration) Observe(w *sim.World) {
	p.depth = max(p.depth, w.Stats().MaxPenetration)
}

func (p *MaxPenetration) Value() float64 { return p.depth }

func (p *MaxPenetration) Reset() { p.depth = 0 }

// Stability is the fraction of steps that needed no retry and kept the
// deepest penetration within threshold.
type Stability struct {
	threshold float64
	clean     int
	steps     int
}

func NewStability(threshold float64) *Stability {
	return &Stability{threshold: threshold}
}

func (s *Stability) Name() string { return "stability" }

func (s *Stability) Observe(w *sim.World) {
	s.steps++
	if st := w.Stats(); st.Retries == 0 && st.MaxPenetration <= s.threshold {
		s.clean++
	}
}

func (s *Stability) Value() float64 {
	if s.steps == 0 {
		return 1
	}
	return float64(s.clean) / float64(s.steps)
}

// Violations is the number of observed steps that were not clean.
func (s *Stability) Violations() int { return s.steps - s.clean }

func (s *Stability) Reset() {
	s.clean = 0
	s.steps = 0
}
