package optim

import (
	"context"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/scenes"
	"github.com/san-kum/mechsim/internal/sim"
)

// paramMetric reports a fixed value so the search outcome is known.
type paramMetric struct{ v float64 }

func (p *paramMetric) Name() string         { return "param" }
func (p *paramMetric) Observe(w *sim.World) {}
func (p *paramMetric) Value() float64       { return p.v }
func (p *paramMetric) Reset()               {}

func shortHeadOn() config.Config {
	cfg := *config.DefaultConfig()
	cfg.Duration = 0.02
	cfg.Gravity = 0
	return cfg
}

func TestGridSearchFindsMinimum(t *testing.T) {
	g := NewWithT(t)
	reg := scenes.NewRegistry()
	gs := NewGridSearch(
		[]string{"friction", "speed"},
		[][]float64{{0.5, 0.1, 0.3}, {1, 2}},
	)
	g.Expect(gs.Size()).To(Equal(6))

	build := func(params map[string]float64) (*sim.Simulator, error) {
		cfg, err := Apply(shortHeadOn(), params)
		if err != nil {
			return nil, err
		}
		w, err := reg.Build(cfg)
		if err != nil {
			return nil, err
		}
		s := sim.New(w)
		s.RecordEvery = 0
		s.AddMetric(&paramMetric{v: params["friction"] * params["speed"]})
		return s, nil
	}

	best, points, err := gs.Search(context.Background(), build, "param")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(points).To(HaveLen(6))
	g.Expect(best.Params).To(Equal(map[string]float64{"friction": 0.1, "speed": 1}))
	g.Expect(best.Value).To(BeNumerically("~", 0.1, 1e-12))
	g.Expect(points[0].Params).To(Equal(map[string]float64{"friction": 0.5, "speed": 1}))
}

func TestGridSearchUnknownMetric(t *testing.T) {
	g := NewWithT(t)
	gs := NewGridSearch([]string{"speed"}, [][]float64{{1}})
	build := func(params map[string]float64) (*sim.Simulator, error) {
		cfg, _ := Apply(shortHeadOn(), params)
		w, err := scenes.HeadOn(cfg, nil)
		if err != nil {
			return nil, err
		}
		return sim.New(w), nil
	}
	_, _, err := gs.Search(context.Background(), build, "missing")
	g.Expect(err).To(MatchError(ContainSubstring("unknown metric")))
}

func TestGridSearchCancelled(t *testing.T) {
	g := NewWithT(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gs := NewGridSearch([]string{"speed"}, [][]float64{{1, 2}})
	_, points, err := gs.Search(ctx, func(map[string]float64) (*sim.Simulator, error) {
		t.Fatal("build called after cancel")
		return nil, nil
	}, "param")
	g.Expect(err).To(MatchError(context.Canceled))
	g.Expect(points).To(BeEmpty())
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		vals    []float64
		wantErr bool
	}{
		{in: "friction=0,0.5,1", name: "friction", vals: []float64{0, 0.5, 1}},
		{in: "dt= 1e-3 , 2e-3", name: "dt", vals: []float64{1e-3, 2e-3}},
		{in: "friction", wantErr: true},
		{in: "=1", wantErr: true},
		{in: "friction=a", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			g := NewWithT(t)
			name, vals, err := ParseRange(tt.in)
			if tt.wantErr {
				g.Expect(err).To(HaveOccurred())
				return
			}
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(name).To(Equal(tt.name))
			g.Expect(vals).To(Equal(tt.vals))
		})
	}
}

func TestApply(t *testing.T) {
	g := NewWithT(t)
	base := *config.DefaultConfig()
	cfg, err := Apply(base, map[string]float64{"compliance": 1e-3, "bodies": 3, "friction_tol": 1e-2})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Contact.Compliance).To(Equal(1e-3))
	g.Expect(cfg.Bodies).To(Equal(3))
	g.Expect(cfg.Engine.FrictionTol).To(Equal(1e-2))
	g.Expect(base.Contact.Compliance).To(Equal(0.0))

	_, err = Apply(base, map[string]float64{"nope": 1})
	g.Expect(err).To(MatchError(ContainSubstring("unknown parameter")))
}
