package contact

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/mech"
)

type rigidBody struct {
	name string
	body mech.ComponentID
}

func (r *rigidBody) Name() string                         { return r.name }
func (r *rigidBody) Frame() mech.ComponentID              { return r.body }
func (r *rigidBody) NumVertices() int                     { return 0 }
func (r *rigidBody) VertexComponent(int) mech.ComponentID { return -1 }

type mesh struct {
	name  string
	verts []mech.ComponentID
}

func (s *mesh) Name() string                           { return s.name }
func (s *mesh) Frame() mech.ComponentID                { return -1 }
func (s *mesh) NumVertices() int                       { return len(s.verts) }
func (s *mesh) VertexComponent(i int) mech.ComponentID { return s.verts[i] }

// twoSpheres builds two unit-mass spheres of radius 1 overlapping by 0.1
// along x, the first approaching the second.
func twoSpheres() (*mech.Model, *rigidBody, *rigidBody) {
	m := mech.NewModel(config.DefaultEngine())
	a := m.AddComponent(mech.NewSphere("a", 1, 1, mgl64.Vec3{0, 0, 0}))
	b := m.AddComponent(mech.NewSphere("b", 1, 1, mgl64.Vec3{1.9, 0, 0}))
	m.Component(a).SetLinearVelocity(mgl64.Vec3{1, 0.5, 0})
	m.UpdateSolveIndices()
	return m, &rigidBody{"a", a}, &rigidBody{"b", b}
}

// sphereCandidate is the contact of twoSpheres: the normal points from b
// toward a.
func sphereCandidate(dist float64) Candidate {
	return Candidate{
		Point0: FeaturePoint(mgl64.Vec3{1, 0, 0}, 0),
		Point1: FeaturePoint(mgl64.Vec3{0.9, 0, 0}, 0),
		Normal: mgl64.Vec3{-1, 0, 0},
		Dist:   dist,
	}
}
