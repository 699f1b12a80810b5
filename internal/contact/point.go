// Package contact turns collision geometry into contact constraints and keeps
// the per-pair collision handlers that own them.
//
// A contact constraint joins two contact points. Each point is reduced to a
// list of masters: a rigid collidable contributes its body once, a
// deformable one contributes every supporting vertex with its barycentric
// weight. Handlers are stored in a [Table] indexed by collidable so that
// handler identity, and with it the accumulated impulses, survives changes
// to the body set.
package contact

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/mechsim/internal/mech"
)

// Collidable is a body that can take part in contact. Rigid collidables
// report their body through Frame; deformable ones report -1 and expose
// their vertices. A collidable with neither is fixed in the world.
type Collidable interface {
	Name() string
	Frame() mech.ComponentID
	NumVertices() int
	VertexComponent(i int) mech.ComponentID
}

func isDeformable(c Collidable) bool {
	return c.Frame() < 0 && c.NumVertices() > 0
}

// collidableMass sums the masses moving with c.
func collidableMass(m *mech.Model, c Collidable) float64 {
	if f := c.Frame(); f >= 0 {
		return m.Component(f).Mass
	}
	mass := 0.0
	for i := 0; i < c.NumVertices(); i++ {
		mass += m.Component(c.VertexComponent(i)).Mass
	}
	return mass
}

// maxPointVertices bounds the vertices supporting one contact point; a
// triangle face uses three.
const maxPointVertices = 4

// Point is a contact location, optionally expressed as a weighted
// combination of mesh vertices. Feature identifies the contact feature on
// rigid collidables, where Vertices is empty.
type Point struct {
	Position mgl64.Vec3
	Vertices []int
	Weights  []float64
	Feature  int
}

// VertexPoint returns a point located exactly at mesh vertex v.
func VertexPoint(pos mgl64.Vec3, v int) Point {
	return Point{Position: pos, Vertices: []int{v}, Weights: []float64{1}}
}

// FeaturePoint returns a point on a rigid feature.
func FeaturePoint(pos mgl64.Vec3, feature int) Point {
	return Point{Position: pos, Feature: feature}
}

type pointKey struct {
	feature int
	n       int
	verts   [maxPointVertices]int
}

func (p Point) key() pointKey {
	if len(p.Vertices) > maxPointVertices {
		panic(fmt.Sprintf("contact: point supported by %d vertices", len(p.Vertices)))
	}
	k := pointKey{feature: p.Feature, n: len(p.Vertices)}
	copy(k.verts[:], p.Vertices)
	return k
}

func (p Point) clone() Point {
	p.Vertices = append([]int(nil), p.Vertices...)
	p.Weights = append([]float64(nil), p.Weights...)
	return p
}

func (p Point) String() string {
	if len(p.Vertices) == 0 {
		return fmt.Sprintf("f%d", p.Feature)
	}
	return fmt.Sprintf("v%v", p.Vertices)
}

// Candidate is one contact reported by collision detection. Normal points
// from the second collidable toward the first; Dist is negative when the
// bodies interpenetrate.
// Area is the estimated contact patch area, or zero when unknown.
type Candidate struct {
	Point0 Point
	Point1 Point
	Normal mgl64.Vec3
	Dist   float64
	Area   float64
}
