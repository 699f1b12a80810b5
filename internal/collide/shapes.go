// Package collide provides analytic collision detection for spheres, planes
// and vertex clouds. It produces the contact candidates consumed by the
// collision handlers; anything more elaborate (mesh intersection, BVHs) is
// expected to come from an external detector behind the same interface.
package collide

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/mechsim/internal/mech"
)

// Sphere is a rigid collidable centered on its body frame.
type Sphere struct {
	name   string
	Body   mech.ComponentID
	Radius float64
}

func NewSphere(name string, body mech.ComponentID, radius float64) *Sphere {
	if radius <= 0 {
		panic(fmt.Sprintf("collide: sphere %q radius %g", name, radius))
	}
	return &Sphere{name: name, Body: body, Radius: radius}
}

func (s *Sphere) Name() string                         { return s.name }
func (s *Sphere) Frame() mech.ComponentID              { return s.Body }
func (s *Sphere) NumVertices() int                     { return 0 }
func (s *Sphere) VertexComponent(int) mech.ComponentID { return -1 }

// Plane is a fixed half space {x : (x - Origin).Normal >= 0}.
type Plane struct {
	name   string
	Origin mgl64.Vec3
	Normal mgl64.Vec3
}

func NewPlane(name string, origin, normal mgl64.Vec3) *Plane {
	if normal.Len() == 0 {
		panic(fmt.Sprintf("collide: plane %q has zero normal", name))
	}
	return &Plane{name: name, Origin: origin, Normal: normal.Normalize()}
}

// Ground returns the plane z = 0 facing up.
func Ground() *Plane {
	return NewPlane("ground", mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
}

func (p *Plane) Name() string                         { return p.name }
func (p *Plane) Frame() mech.ComponentID              { return -1 }
func (p *Plane) NumVertices() int                     { return 0 }
func (p *Plane) VertexComponent(int) mech.ComponentID { return -1 }

// Distance returns the signed distance of x above the plane.
func (p *Plane) Distance(x mgl64.Vec3) float64 {
	return x.Sub(p.Origin).Dot(p.Normal)
}

// VertexCloud is a deformable collidable made of point vertices, each a
// dynamic component carrying a small contact radius.
type VertexCloud struct {
	name   string
	Verts  []mech.ComponentID
	Radius float64
}

func NewVertexCloud(name string, verts []mech.ComponentID, radius float64) *VertexCloud {
	if len(verts) == 0 {
		panic(fmt.Sprintf("collide: vertex cloud %q is empty", name))
	}
	return &VertexCloud{name: name, Verts: verts, Radius: radius}
}

func (v *VertexCloud) Name() string                           { return v.name }
func (v *VertexCloud) Frame() mech.ComponentID                { return -1 }
func (v *VertexCloud) NumVertices() int                       { return len(v.Verts) }
func (v *VertexCloud) VertexComponent(i int) mech.ComponentID { return v.Verts[i] }
