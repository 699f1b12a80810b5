package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/dynamo"
	"github.com/san-kum/mechsim/internal/scenes"
	"github.com/san-kum/mechsim/internal/sim"
)

func sampleResult() *sim.Result {
	return &sim.Result{
		States: []dynamo.State{
			{1.0, 0.0},
			{0.9, -0.1},
		},
		Times:      []float64{0.0, 0.01},
		StepsTaken: 1,
		Metrics: map[string]float64{
			"kinetic_energy": 1.5,
		},
	}
}

func TestStoreSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	cfg := *config.DefaultConfig()
	cfg.Seed = 42
	runID, err := st.Save(cfg, "rigid", []string{"a.p0", "a.v0"}, sampleResult())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if _, err := uuid.Parse(runID); err != nil {
		t.Errorf("run id %q is not a uuid: %v", runID, err)
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if meta.Scene != "head_on" || meta.Preset != "rigid" {
		t.Errorf("unexpected scene/preset %q/%q", meta.Scene, meta.Preset)
	}
	if meta.Seed != 42 {
		t.Errorf("expected seed 42, got %d", meta.Seed)
	}
	if meta.Metrics["kinetic_energy"] != 1.5 {
		t.Errorf("expected kinetic_energy 1.5, got %f", meta.Metrics["kinetic_energy"])
	}
	if meta.Engine.SolverIterations != config.DefaultSolverIterations {
		t.Errorf("engine config not stored: %+v", meta.Engine)
	}

	labels, states, times, err := st.LoadStates(runID)
	if err != nil {
		t.Fatalf("load states failed: %v", err)
	}
	if len(states) != 2 || len(times) != 2 {
		t.Fatalf("expected 2 states and times, got %d/%d", len(states), len(times))
	}
	if labels[1] != "a.v0" {
		t.Errorf("unexpected labels %v", labels)
	}

	col, err := Column(labels, states, "a.v0")
	if err != nil {
		t.Fatal(err)
	}
	if col[1] != -0.1 {
		t.Errorf("expected -0.1, got %v", col[1])
	}
	if _, err := Column(labels, states, "missing"); err == nil {
		t.Error("expected error for missing column")
	}
}

func TestStoreList(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	for i := 0; i < 2; i++ {
		if _, err := st.Save(*config.DefaultConfig(), "", nil, sampleResult()); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestStoreFileStructure(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	cfg := *config.DefaultConfig()
	cfg.Duration = 0.02
	w, err := scenes.NewRegistry().Build(cfg)
	if err != nil {
		t.Fatal(err)
	}
	res, err := sim.New(w).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	runID, err := st.Save(cfg, "", w.StateLabels(), res)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := st.SaveContacts(runID, w.Table()); err != nil {
		t.Fatalf("save contacts failed: %v", err)
	}

	runDir := filepath.Join(tmpDir, runID)
	for _, name := range []string{"metadata.json", "states.csv", "contacts.txt"} {
		if _, err := os.Stat(filepath.Join(runDir, name)); os.IsNotExist(err) {
			t.Errorf("%s not created", name)
		}
	}

	labels, _, _, err := st.LoadStates(runID)
	if err != nil {
		t.Fatal(err)
	}
	if labels[0] != "left.p0" {
		t.Errorf("unexpected first label %q", labels[0])
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, *config.DefaultConfig(), []string{"x", "v"}, sampleResult()); err != nil {
		t.Fatal(err)
	}
	var data ExportData
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	if data.Steps != 1 || len(data.States) != 2 || data.Scene != "head_on" {
		t.Errorf("unexpected export %+v", data)
	}
	if !strings.Contains(buf.String(), "\n  \"scene\"") {
		t.Error("export is not indented")
	}
}
