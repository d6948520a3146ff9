package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

func flatSnapshot(t *testing.T, vals ...float64) state.Value {
	t.Helper()
	return &state.Flat{T: tensor.FromSlice(vals, len(vals))}
}

func TestStoreSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	run, err := FlattenTrajectory(
		[]float64{0.0, 0.5},
		[]state.Value{flatSnapshot(t, 1.0, 0.0), flatSnapshot(t, 0.9, -0.1)},
	)
	if err != nil {
		t.Fatalf("flatten failed: %v", err)
	}

	runID, err := st.Save("ou", "rk4", 42, map[string]float64{"final_norm": 1.5}, run)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if runID == "" {
		t.Error("expected non-empty run id")
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if meta.Model != "ou" {
		t.Errorf("expected model 'ou', got '%s'", meta.Model)
	}

	if meta.Seed != 42 {
		t.Errorf("expected seed 42, got %d", meta.Seed)
	}

	if meta.Summary["final_norm"] != 1.5 {
		t.Errorf("expected final_norm 1.5, got %f", meta.Summary["final_norm"])
	}

	loaded, err := st.LoadRun(runID)
	if err != nil {
		t.Fatalf("load run failed: %v", err)
	}

	if len(loaded.Rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(loaded.Rows))
	}

	if len(loaded.Times) != 2 {
		t.Errorf("expected 2 times, got %d", len(loaded.Times))
	}

	if len(loaded.Columns) != 2 || loaded.Columns[0] != "x0" {
		t.Errorf("unexpected columns %v", loaded.Columns)
	}
}

func TestFlattenTree(t *testing.T) {
	fields := map[string]*tensor.Tensor{
		"action":      tensor.FromSlice([]float64{1, 2}, 1, 2),
		"observation": tensor.FromSlice([]float64{3, 4, 5}, 1, 3),
	}
	tree, err := state.NewTree(fields)
	if err != nil {
		t.Fatal(err)
	}

	run, err := FlattenTrajectory([]float64{0.0}, []state.Value{tree})
	if err != nil {
		t.Fatal(err)
	}

	if len(run.Columns) != 5 {
		t.Fatalf("expected 5 columns, got %d", len(run.Columns))
	}
	if run.Columns[0] != "action0" || run.Columns[2] != "observation0" {
		t.Errorf("unexpected columns %v", run.Columns)
	}
	want := []float64{1, 2, 3, 4, 5}
	for i, v := range want {
		if run.Rows[0][i] != v {
			t.Errorf("row[%d] = %f, want %f", i, run.Rows[0][i], v)
		}
	}
}

func TestFlattenLengthMismatch(t *testing.T) {
	_, err := FlattenTrajectory([]float64{0.0, 1.0}, []state.Value{flatSnapshot(t, 1.0)})
	if err == nil {
		t.Error("expected error for mismatched times and snapshots")
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

	run, err := FlattenTrajectory([]float64{0.0}, []state.Value{flatSnapshot(t, 1.0)})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := st.Save("ou", "rk4", 42, nil, run); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestStoreFileStructure(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	run, err := FlattenTrajectory([]float64{0.0}, []state.Value{flatSnapshot(t, 1.0)})
	if err != nil {
		t.Fatal(err)
	}

	runID, err := st.Save("ou", "rk4", 42, nil, run)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runDir := filepath.Join(tmpDir, runID)
	metaPath := filepath.Join(runDir, "metadata.json")
	csvPath := filepath.Join(runDir, "trajectory.csv")

	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		t.Error("metadata.json not created")
	}

	if _, err := os.Stat(csvPath); os.IsNotExist(err) {
		t.Error("trajectory.csv not created")
	}
}
