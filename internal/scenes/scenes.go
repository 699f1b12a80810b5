package scenes

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/mechsim/internal/collide"
	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/contact"
	"github.com/san-kum/mechsim/internal/mech"
	"github.com/san-kum/mechsim/internal/sim"
)

// HeadOn places two unit spheres on the x axis, closing at 2*Speed.
func HeadOn(cfg config.Config, _ *rand.Rand) (*sim.World, error) {
	m := mech.NewModel(cfg.Engine)
	a := m.AddComponent(mech.NewSphere("left", 1, 0.5, mgl64.Vec3{-1, 0, 0}))
	b := m.AddComponent(mech.NewSphere("right", 1, 0.5, mgl64.Vec3{1, 0, 0}))
	m.Component(a).SetLinearVelocity(mgl64.Vec3{cfg.Speed, 0, 0})
	m.Component(b).SetLinearVelocity(mgl64.Vec3{-cfg.Speed, 0, 0})
	colls := []contact.Collidable{
		collide.NewSphere("left", a, 0.5),
		collide.NewSphere("right", b, 0.5),
	}
	return sim.NewWorld(cfg, m, colls, detector()), nil
}

const waterDensity = 1000

// Rain drops cfg.Bodies spheres of random size from random heights onto the
// ground.
func Rain(cfg config.Config, rng *rand.Rand) (*sim.World, error) {
	if cfg.Bodies <= 0 {
		return nil, fmt.Errorf("rain needs at least one body, got %d", cfg.Bodies)
	}
	m := mech.NewModel(cfg.Engine)
	colls := []contact.Collidable{collide.Ground()}
	for i := 0; i < cfg.Bodies; i++ {
		r := 0.1 + 0.15*rng.Float64()
		pos := mgl64.Vec3{
			2 * (rng.Float64() - 0.5),
			2 * (rng.Float64() - 0.5),
			r + 0.5 + 0.6*float64(i),
		}
		name := fmt.Sprintf("drop%d", i)
		mass := 4.0 / 3.0 * math.Pi * r * r * r * waterDensity
		id := m.AddComponent(mech.NewSphere(name, mass, r, pos))
		m.Component(id).SetLinearVelocity(mgl64.Vec3{rng.NormFloat64() * 0.2, rng.NormFloat64() * 0.2, 0})
		colls = append(colls, collide.NewSphere(name, id, r))
	}
	return sim.NewWorld(cfg, m, colls, detector()), nil
}

// Stack piles cfg.Bodies unit spheres on the ground with a small lateral
// jitter.
func Stack(cfg config.Config, rng *rand.Rand) (*sim.World, error) {
	if cfg.Bodies <= 0 {
		return nil, fmt.Errorf("stack needs at least one body, got %d", cfg.Bodies)
	}
	const r = 0.25
	m := mech.NewModel(cfg.Engine)
	colls := []contact.Collidable{collide.Ground()}
	for i := 0; i < cfg.Bodies; i++ {
		pos := mgl64.Vec3{1e-3 * rng.NormFloat64(), 1e-3 * rng.NormFloat64(), r + 2*r*float64(i)}
		name := fmt.Sprintf("block%d", i)
		id := m.AddComponent(mech.NewSphere(name, 1, r, pos))
		colls = append(colls, collide.NewSphere(name, id, r))
	}
	return sim.NewWorld(cfg, m, colls, detector()), nil
}

// Tethered hangs a rigid hub from a world ball joint. A grid of particles
// rides on the hub through frame attachments; one particle trails another
// and one sits between two grid points, so attachment chains and weighted
// attachments are both present. The particles collide with a raised floor
// as the hub swings down.
func Tethered(cfg config.Config, _ *rand.Rand) (*sim.World, error) {
	m := mech.NewModel(cfg.Engine)
	hub := m.AddComponent(mech.NewSphere("hub", 2, 0.2, mgl64.Vec3{0, 0, 1.2}))

	const n = 3
	const spacing = 0.15
	var verts []mech.ComponentID
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			loc := mgl64.Vec3{spacing * float64(i-1), spacing * float64(j-1), -0.3}
			p := m.AddComponent(mech.NewParticle(fmt.Sprintf("v%d%d", i, j), 0.05, m.Component(hub).WorldPoint(loc)))
			m.AddAttachment(mech.NewPointFrameAttachment(p, hub, loc))
			verts = append(verts, p)
		}
	}
	corner := verts[len(verts)-1]
	tail := m.AddComponent(mech.NewParticle("tail", 0.05, m.Component(corner).Position()))
	m.AddAttachment(mech.NewPointParticleAttachment(tail, corner))
	mid := m.AddComponent(mech.NewParticle("mid", 0.05, mgl64.Vec3{}))
	m.AddAttachment(mech.NewPointWeightedAttachment(mid, []mech.ComponentID{verts[0], verts[1]}, []float64{0.5, 0.5}))
	verts = append(verts, tail, mid)

	floor := collide.NewPlane("floor", mgl64.Vec3{0, 0, 0.75}, mgl64.Vec3{0, 0, 1})
	colls := []contact.Collidable{
		collide.NewVertexCloud("sheet", verts, 0.02),
		floor,
	}
	w := sim.NewWorld(cfg, m, colls, detector())
	w.AddJoint(mech.NewBallJoint(m, hub, -1, mgl64.Vec3{0.6, 0, 1.2}))
	return w, nil
}
