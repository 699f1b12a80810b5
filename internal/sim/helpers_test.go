package sim

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/mechsim/internal/collide"
	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/contact"
	"github.com/san-kum/mechsim/internal/mech"
)

// headOn builds two unit spheres of unit mass touching at the origin plane
// x = 1 and closing at speed 2.
func headOn(cfg config.Config) *World {
	return headOnApart(cfg, 0)
}

// headOnApart is headOn with the spheres separated by gap.
func headOnApart(cfg config.Config, gap float64) *World {
	m := mech.NewModel(cfg.Engine)
	a := m.AddComponent(mech.NewSphere("a", 1, 1, mgl64.Vec3{0, 0, 0}))
	b := m.AddComponent(mech.NewSphere("b", 1, 1, mgl64.Vec3{2 + gap, 0, 0}))
	m.Component(a).SetLinearVelocity(mgl64.Vec3{1, 0, 0})
	m.Component(b).SetLinearVelocity(mgl64.Vec3{-1, 0, 0})
	colls := []contact.Collidable{
		collide.NewSphere("a", a, 1),
		collide.NewSphere("b", b, 1),
	}
	return NewWorld(cfg, m, colls, collide.Detector{})
}

func zeroGravity() config.Config {
	cfg := *config.DefaultConfig()
	cfg.Gravity = 0
	cfg.Duration = 0.1
	return cfg
}

// sphereOnGround drops a unit sphere onto the ground plane with horizontal
// speed vx.
func sphereOnGround(cfg config.Config, vx float64) *World {
	m := mech.NewModel(cfg.Engine)
	s := m.AddComponent(mech.NewSphere("s", 1, 0.5, mgl64.Vec3{0, 0, 0.5}))
	m.Component(s).SetLinearVelocity(mgl64.Vec3{vx, 0, 0})
	colls := []contact.Collidable{
		collide.NewSphere("s", s, 0.5),
		collide.Ground(),
	}
	return NewWorld(cfg, m, colls, collide.Detector{Margin: 1e-3})
}

// particleOnGround drops a free particle of mass 2, as a single vertex cloud,
// from height z with downward speed vz.
func particleOnGround(cfg config.Config, z, vz float64) *World {
	m := mech.NewModel(cfg.Engine)
	p := m.AddComponent(mech.NewParticle("p", 2, mgl64.Vec3{0, 0, z}))
	m.Component(p).SetLinearVelocity(mgl64.Vec3{0, 0, -vz})
	colls := []contact.Collidable{
		collide.NewVertexCloud("cloud", []mech.ComponentID{p}, 0),
		collide.Ground(),
	}
	return NewWorld(cfg, m, colls, collide.Detector{Margin: 1e-3})
}
