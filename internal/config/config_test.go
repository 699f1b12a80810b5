package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Scene != "head_on" {
		t.Errorf("expected scene head_on, got %s", cfg.Scene)
	}
	if cfg.Dt <= 0 {
		t.Error("dt should be positive")
	}
	if cfg.Duration <= 0 {
		t.Error("duration should be positive")
	}
	if !cfg.Engine.FrictionPruning || cfg.Engine.FrictionTol != DefaultFrictionTol {
		t.Errorf("unexpected friction pruning defaults: %+v", cfg.Engine)
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("head_on", "compliant")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Contact.Compliance != 1e-4 {
		t.Errorf("expected compliance 1e-4, got %g", cfg.Contact.Compliance)
	}
	if cfg.Engine.SolverIterations != DefaultSolverIterations {
		t.Errorf("preset lost engine defaults: %+v", cfg.Engine)
	}
}

func TestGetPreset_NotFound(t *testing.T) {
	cfg := GetPreset("head_on", "nonexistent")
	if cfg != nil {
		t.Error("expected nil for nonexistent preset")
	}

	cfg = GetPreset("nonexistent", "rigid")
	if cfg != nil {
		t.Error("expected nil for nonexistent scene")
	}
}

func TestListPresets(t *testing.T) {
	presets := ListPresets("head_on")
	if len(presets) != 3 || presets[0] != "bilateral" {
		t.Errorf("expected sorted head_on presets, got %v", presets)
	}

	presets = ListPresets("nonexistent")
	if presets != nil {
		t.Error("expected nil for nonexistent scene")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")

	cfg := DefaultConfig()
	cfg.Scene = "rain"
	cfg.Engine.IgnoreCoriolis = true
	cfg.Contact.Friction = 0.25

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Scene != "rain" || !loaded.Engine.IgnoreCoriolis || loaded.Contact.Friction != 0.25 {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
