package store

import (
	"encoding/json"
	"io"
	"os"
)

type ExportData struct {
	Model   string             `json:"model"`
	Solver  string             `json:"solver"`
	Seed    int64              `json:"seed"`
	Steps   int                `json:"steps"`
	Times   []float64          `json:"times"`
	Columns []string           `json:"columns"`
	Values  [][]float64        `json:"values"`
	Summary map[string]float64 `json:"summary"`
}

func exportJSON(w io.Writer, model, solver string, seed int64, summary map[string]float64, run *Run) error {
	data := ExportData{
		Model:   model,
		Solver:  solver,
		Seed:    seed,
		Steps:   len(run.Times),
		Times:   run.Times,
		Columns: run.Columns,
		Values:  run.Rows,
		Summary: summary,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func ExportJSON(path, model, solver string, seed int64, summary map[string]float64, run *Run) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return exportJSON(file, model, solver, seed, summary, run)
}

func ExportJSONStdout(model, solver string, seed int64, summary map[string]float64, run *Run) error {
	return exportJSON(os.Stdout, model, solver, seed, summary, run)
}
