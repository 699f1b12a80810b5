package collide

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/mechsim/internal/contact"
	"github.com/san-kum/mechsim/internal/mech"
)

// Detector finds contacts between pairs of the shapes in this package.
// Pairs closer than Margin are reported, so contacts that are about to
// touch take part in the solve.
type Detector struct {
	Margin float64
}

// Detect returns the candidates between a and b. Normals point from b toward
// a and Dist is negative on penetration. Unsupported pairs report nothing.
func (d Detector) Detect(m *mech.Model, a, b contact.Collidable) []contact.Candidate {
	switch a := a.(type) {
	case *Sphere:
		switch b := b.(type) {
		case *Sphere:
			return d.sphereSphere(m, a, b)
		case *Plane:
			return d.spherePlane(m, a, b)
		case *VertexCloud:
			return flip(d.cloudSphere(m, b, a))
		}
	case *Plane:
		switch b := b.(type) {
		case *Sphere:
			return flip(d.spherePlane(m, b, a))
		case *VertexCloud:
			return flip(d.cloudPlane(m, b, a))
		}
	case *VertexCloud:
		switch b := b.(type) {
		case *Sphere:
			return d.cloudSphere(m, a, b)
		case *Plane:
			return d.cloudPlane(m, a, b)
		}
	}
	return nil
}

func flip(cands []contact.Candidate) []contact.Candidate {
	for i := range cands {
		c := &cands[i]
		c.Point0, c.Point1 = c.Point1, c.Point0
		c.Normal = c.Normal.Mul(-1)
	}
	return cands
}

// hertzArea estimates the contact patch of two spheres pressed together by
// depth, using the effective radius.
func hertzArea(r0, r1, depth float64) float64 {
	if depth <= 0 {
		return 0
	}
	reff := r0
	if r1 > 0 {
		reff = r0 * r1 / (r0 + r1)
	}
	return math.Pi * reff * depth
}

func (d Detector) sphereSphere(m *mech.Model, a, b *Sphere) []contact.Candidate {
	pa := m.Component(a.Body).Position()
	pb := m.Component(b.Body).Position()
	diff := pa.Sub(pb)
	l := diff.Len()
	dist := l - a.Radius - b.Radius
	if dist > d.Margin {
		return nil
	}
	n := mgl64.Vec3{1, 0, 0}
	if l > 0 {
		n = diff.Mul(1 / l)
	}
	return []contact.Candidate{{
		Point0: contact.FeaturePoint(pa.Sub(n.Mul(a.Radius)), 0),
		Point1: contact.FeaturePoint(pb.Add(n.Mul(b.Radius)), 0),
		Normal: n,
		Dist:   dist,
		Area:   hertzArea(a.Radius, b.Radius, -dist),
	}}
}

func (d Detector) spherePlane(m *mech.Model, s *Sphere, p *Plane) []contact.Candidate {
	c := m.Component(s.Body).Position()
	dist := p.Distance(c) - s.Radius
	if dist > d.Margin {
		return nil
	}
	return []contact.Candidate{{
		Point0: contact.FeaturePoint(c.Sub(p.Normal.Mul(s.Radius)), 0),
		Point1: contact.FeaturePoint(c.Sub(p.Normal.Mul(s.Radius+dist)), 0),
		Normal: p.Normal,
		Dist:   dist,
		Area:   hertzArea(s.Radius, 0, -dist),
	}}
}

func (d Detector) cloudPlane(m *mech.Model, v *VertexCloud, p *Plane) []contact.Candidate {
	var out []contact.Candidate
	for i, id := range v.Verts {
		x := m.Component(id).Position()
		dist := p.Distance(x) - v.Radius
		if dist > d.Margin {
			continue
		}
		out = append(out, contact.Candidate{
			Point0: contact.VertexPoint(x, i),
			Point1: contact.FeaturePoint(x.Sub(p.Normal.Mul(v.Radius+dist)), i),
			Normal: p.Normal,
			Dist:   dist,
		})
	}
	return out
}

func (d Detector) cloudSphere(m *mech.Model, v *VertexCloud, s *Sphere) []contact.Candidate {
	c := m.Component(s.Body).Position()
	var out []contact.Candidate
	for i, id := range v.Verts {
		x := m.Component(id).Position()
		diff := x.Sub(c)
		l := diff.Len()
		dist := l - s.Radius - v.Radius
		if dist > d.Margin || l == 0 {
			continue
		}
		n := diff.Mul(1 / l)
		out = append(out, contact.Candidate{
			Point0: contact.VertexPoint(x, i),
			Point1: contact.FeaturePoint(c.Add(n.Mul(s.Radius)), i),
			Normal: n,
			Dist:   dist,
		})
	}
	return out
}
