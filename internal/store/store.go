// Package store persists sampling runs on disk: one directory per run
// holding metadata.json and the trajectory as csv.
package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mkrein/genflow/internal/state"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID        string             `json:"id"`
	Model     string             `json:"model"`
	Solver    string             `json:"solver"`
	Timestamp time.Time          `json:"timestamp"`
	Seed      int64              `json:"seed"`
	Steps     int                `json:"steps"`
	Summary   map[string]float64 `json:"summary"`
}

// Run is a flattened trajectory: one row per time point, one column per
// state component.
type Run struct {
	Times   []float64
	Columns []string
	Rows    [][]float64
}

func flattenValue(v state.Value) []float64 {
	switch x := v.(type) {
	case *state.Flat:
		row := make([]float64, len(x.T.Data()))
		copy(row, x.T.Data())
		return row
	case *state.Tree:
		var row []float64
		for _, name := range x.Keys() {
			row = append(row, x.Field(name).Data()...)
		}
		return row
	}
	return nil
}

func columnNames(v state.Value) []string {
	switch x := v.(type) {
	case *state.Flat:
		names := make([]string, x.T.Len())
		for i := range names {
			names[i] = fmt.Sprintf("x%d", i)
		}
		return names
	case *state.Tree:
		var names []string
		for _, name := range x.Keys() {
			for i := 0; i < x.Field(name).Len(); i++ {
				names = append(names, fmt.Sprintf("%s%d", name, i))
			}
		}
		return names
	}
	return nil
}

// FlattenTrajectory turns engine snapshots into a csv-friendly run.
func FlattenTrajectory(times []float64, traj []state.Value) (*Run, error) {
	if len(times) != len(traj) {
		return nil, fmt.Errorf("store: %d times for %d snapshots", len(times), len(traj))
	}
	run := &Run{Times: times}
	if len(traj) == 0 {
		return run, nil
	}
	run.Columns = columnNames(traj[0])
	run.Rows = make([][]float64, len(traj))
	for i, v := range traj {
		run.Rows[i] = flattenValue(v)
		if len(run.Rows[i]) != len(run.Columns) {
			return nil, fmt.Errorf("store: snapshot %d has %d values, expected %d", i, len(run.Rows[i]), len(run.Columns))
		}
	}
	return run, nil
}

func (s *Store) Save(model, solver string, seed int64, summary map[string]float64, run *Run) (string, error) {
	runID := fmt.Sprintf("%s_%d", model, time.Now().UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:        runID,
		Model:     model,
		Solver:    solver,
		Timestamp: time.Now(),
		Seed:      seed,
		Steps:     len(run.Times),
		Summary:   summary,
	}

	metaPath := filepath.Join(runDir, "metadata.json")
	metaFile, err := os.Create(metaPath)
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvPath := filepath.Join(runDir, "trajectory.csv")
	csvFile, err := os.Create(csvPath)
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if len(run.Rows) == 0 {
		return runID, nil
	}

	header := append([]string{"time"}, run.Columns...)
	if err := w.Write(header); err != nil {
		return "", err
	}

	for i, row := range run.Rows {
		record := []string{strconv.FormatFloat(run.Times[i], 'f', 6, 64)}
		for _, val := range row {
			record = append(record, strconv.FormatFloat(val, 'f', 6, 64))
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}

	return runID, nil
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		metaPath := filepath.Join(s.baseDir, entry.Name(), "metadata.json")
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}

		var meta RunMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}

		runs = append(runs, meta)
	}

	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	metaPath := filepath.Join(s.baseDir, runID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// LoadRun reads a saved trajectory back from disk.
func (s *Store) LoadRun(runID string) (*Run, error) {
	csvPath := filepath.Join(s.baseDir, runID, "trajectory.csv")
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	run := &Run{}
	if len(records) < 2 {
		return run, nil
	}

	run.Columns = records[0][1:]
	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) == 0 {
			continue
		}

		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			continue
		}
		run.Times = append(run.Times, t)

		row := make([]float64, 0, len(record)-1)
		for j := 1; j < len(record); j++ {
			val, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				continue
			}
			row = append(row, val)
		}
		run.Rows = append(run.Rows, row)
	}

	return run, nil
}
