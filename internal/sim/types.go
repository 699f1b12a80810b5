package sim

import (
	"github.com/san-kum/mechsim/internal/contact"
	"github.com/san-kum/mechsim/internal/dynamo"
	"github.com/san-kum/mechsim/internal/mech"
)

// Detector finds contact candidates between two collidables. Normals must
// point from b toward a.
type Detector interface {
	Detect(m *mech.Model, a, b contact.Collidable) []contact.Candidate
}

type Metric interface {
	Name() string
	Observe(w *World)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(w *World)
}

// StepStats describes the most recent step.
type StepStats struct {
	Dt             float64
	Handlers       int
	Contacts       int
	Bilaterals     int
	Unilaterals    int
	FrictionSets   int
	MaxPenetration float64
	Iterations     int
	Retries        int
}

type Result struct {
	States      []dynamo.State
	Times       []float64
	Metrics     map[string]float64
	StepsTaken  int
	Retries     int
	EnergyDrift float64
}
