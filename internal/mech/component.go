// Package mech holds the dynamic components of a mechanical model and the
// attachments that slave some components to others.
//
// Components and attachments live in a [Model] arena and refer to each other
// by integer id. The model owns the master back-references, so the relation
// stays symmetric without pointer cycles.
package mech

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/mechsim/internal/dynamo"
	"github.com/san-kum/mechsim/internal/spatial"
)

type ComponentID int

type Kind int

const (
	Particle Kind = iota
	Rigid
	Generic
)

func (k Kind) String() string {
	switch k {
	case Particle:
		return "particle"
	case Rigid:
		return "rigid"
	case Generic:
		return "generic"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status classifies how a component takes part in the solve.
type Status int

const (
	// Active components are integrated by the solver.
	Active Status = iota
	// Attached components follow their masters through an attachment.
	Attached
	// Parametric components are driven externally and never solved.
	Parametric
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Attached:
		return "attached"
	case Parametric:
		return "parametric"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Component is one dynamic body or node.
//
// Rigid positions are stored as x, y, z followed by the orientation quaternion
// w, x, y, z. Rigid velocities are linear then angular, both in world
// coordinates.
type Component struct {
	ID         ComponentID
	Name       string
	Kind       Kind
	Status     Status
	SolveIndex int

	Pos   dynamo.State
	Vel   dynamo.State
	Force dynamo.State

	Mass        float64
	Inertia     mgl64.Mat3
	GenericMass *mat.Dense

	// Radius is used by the analytic collision detectors.
	Radius float64
}

func NewParticle(name string, mass float64, pos mgl64.Vec3) *Component {
	if mass <= 0 {
		panic(fmt.Sprintf("mech: particle %q with non-positive mass %g", name, mass))
	}
	return &Component{
		Name:       name,
		Kind:       Particle,
		SolveIndex: -1,
		Pos:        dynamo.State{pos[0], pos[1], pos[2]},
		Vel:        dynamo.NewState(3),
		Force:      dynamo.NewState(3),
		Mass:       mass,
	}
}

// NewRigidBody creates a rigid body with body-frame inertia at pos with
// identity orientation.
func NewRigidBody(name string, mass float64, inertia mgl64.Mat3, pos mgl64.Vec3) *Component {
	if mass <= 0 {
		panic(fmt.Sprintf("mech: rigid body %q with non-positive mass %g", name, mass))
	}
	return &Component{
		Name:       name,
		Kind:       Rigid,
		SolveIndex: -1,
		Pos:        dynamo.State{pos[0], pos[1], pos[2], 1, 0, 0, 0},
		Vel:        dynamo.NewState(6),
		Force:      dynamo.NewState(6),
		Mass:       mass,
		Inertia:    inertia,
	}
}

// NewSphere creates a solid rigid sphere.
func NewSphere(name string, mass, radius float64, pos mgl64.Vec3) *Component {
	j := 0.4 * mass * radius * radius
	c := NewRigidBody(name, mass, mgl64.Diag3(mgl64.Vec3{j, j, j}), pos)
	c.Radius = radius
	return c
}

// NewGeneric creates a component with an arbitrary number of coordinates and
// a constant symmetric positive definite mass.
func NewGeneric(name string, mass *mat.Dense, pos dynamo.State) *Component {
	r, c := mass.Dims()
	if r != c || r != len(pos) {
		panic(fmt.Sprintf("mech: generic %q mass is %dx%d for %d coordinates", name, r, c, len(pos)))
	}
	return &Component{
		Name:        name,
		Kind:        Generic,
		SolveIndex:  -1,
		Pos:         pos.Clone(),
		Vel:         dynamo.NewState(len(pos)),
		Force:       dynamo.NewState(len(pos)),
		GenericMass: mat.DenseCopyOf(mass),
	}
}

func (c *Component) VelSize() int {
	switch c.Kind {
	case Particle:
		return 3
	case Rigid:
		return 6
	}
	return len(c.Vel)
}

func (c *Component) IsActive() bool   { return c.Status == Active }
func (c *Component) IsAttached() bool { return c.Status == Attached }

// Position returns the origin of a particle or rigid body.
func (c *Component) Position() mgl64.Vec3 {
	return spatial.Vec3(c.Pos, 0)
}

func (c *Component) SetPosition(p mgl64.Vec3) {
	spatial.PutVec3(c.Pos, 0, p)
}

// Orientation returns the rigid body orientation, or identity for other kinds.
func (c *Component) Orientation() mgl64.Quat {
	if c.Kind != Rigid {
		return mgl64.QuatIdent()
	}
	return mgl64.Quat{W: c.Pos[3], V: mgl64.Vec3{c.Pos[4], c.Pos[5], c.Pos[6]}}
}

func (c *Component) SetOrientation(q mgl64.Quat) {
	q = q.Normalize()
	c.Pos[3], c.Pos[4], c.Pos[5], c.Pos[6] = q.W, q.V[0], q.V[1], q.V[2]
}

func (c *Component) LinearVelocity() mgl64.Vec3 {
	return spatial.Vec3(c.Vel, 0)
}

func (c *Component) SetLinearVelocity(v mgl64.Vec3) {
	spatial.PutVec3(c.Vel, 0, v)
}

// AngularVelocity returns zero for non-rigid components.
func (c *Component) AngularVelocity() mgl64.Vec3 {
	if c.Kind != Rigid {
		return mgl64.Vec3{}
	}
	return spatial.Vec3(c.Vel, 3)
}

func (c *Component) SetAngularVelocity(w mgl64.Vec3) {
	spatial.PutVec3(c.Vel, 3, w)
}

// WorldOffset rotates a body-frame location into a world-frame offset from the
// body origin.
func (c *Component) WorldOffset(loc mgl64.Vec3) mgl64.Vec3 {
	if c.Kind != Rigid {
		return mgl64.Vec3{}
	}
	return spatial.Rotation(c.Orientation()).Mul3x1(loc)
}

// WorldPoint maps a body-frame location to world coordinates.
func (c *Component) WorldPoint(loc mgl64.Vec3) mgl64.Vec3 {
	return c.Position().Add(c.WorldOffset(loc))
}

// LocalPoint maps a world point to the body frame.
func (c *Component) LocalPoint(p mgl64.Vec3) mgl64.Vec3 {
	if c.Kind != Rigid {
		return p.Sub(c.Position())
	}
	return spatial.Rotation(c.Orientation()).Transpose().Mul3x1(p.Sub(c.Position()))
}

// PointVelocity returns the velocity of the point at world offset r from the
// component origin.
func (c *Component) PointVelocity(r mgl64.Vec3) mgl64.Vec3 {
	return spatial.PointVelocity(c.LinearVelocity(), c.AngularVelocity(), r)
}

// MassBlock returns the velocity-space mass matrix for the current pose.
func (c *Component) MassBlock() *mat.Dense {
	switch c.Kind {
	case Particle:
		m := mat.NewDense(3, 3, nil)
		for i := 0; i < 3; i++ {
			m.Set(i, i, c.Mass)
		}
		return m
	case Rigid:
		m := mat.NewDense(6, 6, nil)
		for i := 0; i < 3; i++ {
			m.Set(i, i, c.Mass)
		}
		j := spatial.WorldInertia(c.Inertia, c.Orientation())
		for i := 0; i < 3; i++ {
			for k := 0; k < 3; k++ {
				m.Set(3+i, 3+k, j.At(i, k))
			}
		}
		return m
	}
	return mat.DenseCopyOf(c.GenericMass)
}

// GyroscopicForce returns the velocity-dependent force -w x (J w) of a rigid
// body; other kinds have none.
func (c *Component) GyroscopicForce() mgl64.Vec3 {
	if c.Kind != Rigid {
		return mgl64.Vec3{}
	}
	w := c.AngularVelocity()
	j := spatial.WorldInertia(c.Inertia, c.Orientation())
	return w.Cross(j.Mul3x1(w)).Mul(-1)
}

func (c *Component) KineticEnergy() float64 {
	m := c.MassBlock()
	v := mat.NewVecDense(len(c.Vel), c.Vel)
	return 0.5 * mat.Inner(v, m, v)
}

// IntegratePosition advances the position by h using the current velocity.
func (c *Component) IntegratePosition(h float64) {
	switch c.Kind {
	case Particle:
		for i := 0; i < 3; i++ {
			c.Pos[i] += h * c.Vel[i]
		}
	case Rigid:
		for i := 0; i < 3; i++ {
			c.Pos[i] += h * c.Vel[i]
		}
		c.SetOrientation(spatial.IntegrateRotation(c.Orientation(), c.AngularVelocity(), h))
	default:
		n := min(len(c.Pos), len(c.Vel))
		for i := 0; i < n; i++ {
			c.Pos[i] += h * c.Vel[i]
		}
	}
}

// ApplyDisplacement applies a velocity-space position correction.
func (c *Component) ApplyDisplacement(dq []float64) {
	if c.Kind == Rigid {
		for i := 0; i < 3; i++ {
			c.Pos[i] += dq[i]
		}
		rot := mgl64.Vec3{dq[3], dq[4], dq[5]}
		c.SetOrientation(spatial.IntegrateRotation(c.Orientation(), rot, 1))
		return
	}
	n := min(len(c.Pos), len(dq))
	for i := 0; i < n; i++ {
		c.Pos[i] += dq[i]
	}
}

// AddForce accumulates f applied at world offset r from the origin.
func (c *Component) AddForce(f, r mgl64.Vec3) {
	spatial.AddVec3(c.Force, 0, f)
	if c.Kind == Rigid {
		spatial.AddVec3(c.Force, 3, r.Cross(f))
	}
}
