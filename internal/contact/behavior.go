package contact

import "github.com/san-kum/mechsim/internal/config"

// Behavior sets how a collidable pair responds to contact.
type Behavior struct {
	Friction       float64
	Compliance     float64
	Damping        float64
	PenetrationTol float64
	// Bilateral contacts persist across steps and are solved as equalities
	// until they break; unilateral ones are rebuilt every step.
	Bilateral  bool
	Friction2D bool
	// BreakSpeed releases an engaged bilateral contact whose separating
	// speed exceeds it. Zero disables the test.
	BreakSpeed     float64
	MaxUnilaterals int
}

func BehaviorFromConfig(c config.ContactConfig) Behavior {
	return Behavior{
		Friction:       c.Friction,
		Compliance:     c.Compliance,
		Damping:        c.Damping,
		PenetrationTol: c.PenetrationTol,
		Bilateral:      c.Bilateral,
		Friction2D:     c.Friction2D,
		BreakSpeed:     c.BreakSpeed,
		MaxUnilaterals: c.MaxUnilaterals,
	}
}

// BehaviorSource names where a handler's behavior came from, so a restored
// handler can look it up again.
type BehaviorSource string

const DefaultSource BehaviorSource = "default"

// BehaviorResolver maps a source back to a behavior for a pair.
type BehaviorResolver func(src BehaviorSource, c0, c1 Collidable) Behavior
