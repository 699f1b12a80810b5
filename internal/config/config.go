package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDt               = 0.005
	DefaultDuration         = 5.0
	DefaultGravity          = -9.81
	DefaultBodies           = 8
	DefaultFrictionTol      = 1e-4
	DefaultSolverIterations = 200
	DefaultSolverTol        = 1e-10
	DefaultPosIterations    = 4
	DefaultMaxRetries       = 4
	DefaultMinDt            = 1e-6
	DefaultPenetrationTol   = 1e-4
)

type Config struct {
	Scene    string        `yaml:"scene"`
	Dt       float64       `yaml:"dt"`
	Duration float64       `yaml:"duration"`
	Seed     int64         `yaml:"seed"`
	Gravity  float64       `yaml:"gravity"`
	Bodies   int           `yaml:"bodies"`
	Speed    float64       `yaml:"speed"`
	Engine   EngineConfig  `yaml:"engine"`
	Contact  ContactConfig `yaml:"contact"`
}

// EngineConfig carries the switches threaded through attachment, contact and
// solver code. There are no package-level toggles.
type EngineConfig struct {
	IgnoreCoriolis   bool    `yaml:"ignore_coriolis"`
	FrictionPruning  bool    `yaml:"friction_pruning"`
	FrictionTol      float64 `yaml:"friction_tol"`
	Parallel         bool    `yaml:"parallel"`
	SolverIterations int     `yaml:"solver_iterations"`
	SolverTol        float64 `yaml:"solver_tol"`
	ProjectPositions bool    `yaml:"project_positions"`
	PosIterations    int     `yaml:"pos_iterations"`
	MaxRetries       int     `yaml:"max_retries"`
	MinDt            float64 `yaml:"min_dt"`
}

// ContactConfig is the default behavior applied to every collidable pair.
type ContactConfig struct {
	Friction       float64 `yaml:"friction"`
	Compliance     float64 `yaml:"compliance"`
	Damping        float64 `yaml:"damping"`
	PenetrationTol float64 `yaml:"penetration_tol"`
	Bilateral      bool    `yaml:"bilateral"`
	Friction2D     bool    `yaml:"friction_2d"`
	BreakSpeed     float64 `yaml:"break_speed"`
	MaxUnilaterals int     `yaml:"max_unilaterals"`
	// AutoCompliance derives compliance and damping per pair from the
	// combined mass, gravity and PenetrationTol.
	AutoCompliance bool `yaml:"auto_compliance"`
}

func DefaultEngine() EngineConfig {
	return EngineConfig{
		FrictionPruning:  true,
		FrictionTol:      DefaultFrictionTol,
		SolverIterations: DefaultSolverIterations,
		SolverTol:        DefaultSolverTol,
		ProjectPositions: true,
		PosIterations:    DefaultPosIterations,
		MaxRetries:       DefaultMaxRetries,
		MinDt:            DefaultMinDt,
	}
}

func DefaultContact() ContactConfig {
	return ContactConfig{
		PenetrationTol: DefaultPenetrationTol,
	}
}

func DefaultConfig() *Config {
	return &Config{
		Scene:    "head_on",
		Dt:       DefaultDt,
		Duration: DefaultDuration,
		Gravity:  DefaultGravity,
		Bodies:   DefaultBodies,
		Speed:    1.0,
		Engine:   DefaultEngine(),
		Contact:  DefaultContact(),
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
