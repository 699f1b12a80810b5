// Package optim sweeps configuration parameters over a grid and ranks the
// runs by a metric.
package optim

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/sim"
)

// Point is one evaluated grid point. Runs that fail mid-way keep the error
// and score +Inf.
type Point struct {
	Params map[string]float64
	Value  float64
	Err    error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	if len(params) != len(ranges) {
		panic(fmt.Sprintf("optim: %d parameter names for %d ranges", len(params), len(ranges)))
	}
	return &GridSearch{paramNames: params, ranges: ranges}
}

// Size is the number of grid points.
func (g *GridSearch) Size() int {
	n := 1
	for _, r := range g.ranges {
		n *= len(r)
	}
	return n
}

// Search runs build for every grid point and returns the point minimizing
// metricName along with all points in grid order. A build error aborts the
// search; a failed run only disqualifies its point.
func (g *GridSearch) Search(
	ctx context.Context,
	build func(params map[string]float64) (*sim.Simulator, error),
	metricName string,
) (Point, []Point, error) {
	points := make([]Point, 0, g.Size())
	err := g.searchRecursive(ctx, 0, make(map[string]float64), build, metricName, &points)
	if err != nil {
		return Point{}, points, err
	}

	best := Point{Value: math.Inf(1)}
	for _, p := range points {
		if p.Err == nil && (best.Params == nil || p.Value < best.Value) {
			best = p
		}
	}
	if best.Params == nil {
		return best, points, fmt.Errorf("optim: no grid point completed")
	}
	return best, points, nil
}

func (g *GridSearch) searchRecursive(
	ctx context.Context,
	depth int,
	current map[string]float64,
	build func(map[string]float64) (*sim.Simulator, error),
	metricName string,
	points *[]Point,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.paramNames) {
		s, err := build(current)
		if err != nil {
			return err
		}
		p := Point{Params: current, Value: math.Inf(1)}
		result, err := s.Run(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			p.Err = err
		default:
			v, ok := result.Metrics[metricName]
			if !ok {
				return fmt.Errorf("optim: unknown metric %q", metricName)
			}
			p.Value = v
		}
		*points = append(*points, p)
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64, len(current)+1)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, build, metricName, points); err != nil {
			return err
		}
	}
	return nil
}

// ParseRange parses "name=v1,v2,..." into a parameter name and its values.
func ParseRange(s string) (string, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok || name == "" || list == "" {
		return "", nil, fmt.Errorf("optim: expected name=v1,v2,... got %q", s)
	}
	var vals []float64
	for _, f := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return "", nil, fmt.Errorf("optim: %s: %w", name, err)
		}
		vals = append(vals, v)
	}
	return name, vals, nil
}

var setters = map[string]func(c *config.Config, v float64){
	"dt":              func(c *config.Config, v float64) { c.Dt = v },
	"speed":           func(c *config.Config, v float64) { c.Speed = v },
	"gravity":         func(c *config.Config, v float64) { c.Gravity = v },
	"bodies":          func(c *config.Config, v float64) { c.Bodies = int(v) },
	"friction":        func(c *config.Config, v float64) { c.Contact.Friction = v },
	"compliance":      func(c *config.Config, v float64) { c.Contact.Compliance = v },
	"damping":         func(c *config.Config, v float64) { c.Contact.Damping = v },
	"penetration_tol": func(c *config.Config, v float64) { c.Contact.PenetrationTol = v },
	"break_speed":     func(c *config.Config, v float64) { c.Contact.BreakSpeed = v },
	"friction_tol":    func(c *config.Config, v float64) { c.Engine.FrictionTol = v },
}

// Params lists the names accepted by Apply.
func Params() []string {
	names := make([]string, 0, len(setters))
	for k := range setters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Apply writes params into a copy of cfg.
func Apply(cfg config.Config, params map[string]float64) (config.Config, error) {
	for name, v := range params {
		set, ok := setters[name]
		if !ok {
			return cfg, fmt.Errorf("optim: unknown parameter %q (known: %v)", name, Params())
		}
		set(&cfg, v)
	}
	return cfg, nil
}
