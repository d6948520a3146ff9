package config

import "github.com/mkrein/genflow/internal/solver"

var Presets = map[string]map[string]*Config{
	"flow": {
		"ou": {
			XSize: FlatDims(2), Seed: DefaultSeed,
			Model:  ModelConfig{Type: "ou", Theta: 1.0},
			Solver: &solver.Config{Type: "rk4"},
			TSpan:  TSpanConfig{Start: 0, End: 4, Steps: 64},
		},
		"ou-adaptive": {
			XSize: FlatDims(2), Seed: DefaultSeed,
			Model:  ModelConfig{Type: "ou", Theta: 1.0},
			Solver: &solver.Config{Type: "rk45", Args: map[string]any{"tol": 1e-6}},
			TSpan:  TSpanConfig{Start: 0, End: 4, Steps: 64},
		},
		"mlp": {
			XSize: FlatDims(4), Seed: DefaultSeed,
			Model:  ModelConfig{Type: "mlp", Hidden: DefaultHidden},
			Solver: &solver.Config{Type: "euler", Args: map[string]any{"substeps": 4}},
			TSpan:  TSpanConfig{Start: 0, End: 1, Steps: DefaultSteps},
		},
	},
	"diffusion": {
		"ode": {
			XSize: FlatDims(2), Seed: DefaultSeed,
			Model:   ModelConfig{Type: "gauss_score"},
			Solver:  &solver.Config{Type: "tree_ode"},
			Process: &ProcessConfig{BetaMin: DefaultBetaMin, BetaMax: DefaultBetaMax, Prediction: "score"},
			TSpan:   TSpanConfig{Start: 1, End: 0.001, Steps: 64},
		},
		"sde": {
			XSize: FlatDims(2), Seed: DefaultSeed,
			Model:   ModelConfig{Type: "gauss_score"},
			Solver:  &solver.Config{Type: "sde", Args: map[string]any{"substeps": 4, "seed": 7}},
			Process: &ProcessConfig{BetaMin: DefaultBetaMin, BetaMax: DefaultBetaMax, Prediction: "score"},
			TSpan:   TSpanConfig{Start: 1, End: 0.001, Steps: 64},
		},
		"dpm": {
			XSize: FlatDims(2), Seed: DefaultSeed,
			Model:   ModelConfig{Type: "gauss_score"},
			Solver:  &solver.Config{Type: "dpm", Args: map[string]any{"order": 1}},
			Process: &ProcessConfig{BetaMin: DefaultBetaMin, BetaMax: DefaultBetaMax, Prediction: "score"},
			TSpan:   TSpanConfig{Start: 1, End: 0.001, Steps: 16},
		},
	},
	"tree": {
		"ode": {
			XSize:         FieldDims(map[string][]int{"action": {2}, "observation": {4}}),
			UseTreeTensor: true, Seed: DefaultSeed,
			Model:   ModelConfig{Type: "gauss_score"},
			Solver:  &solver.Config{Type: "tree_ode"},
			Process: &ProcessConfig{BetaMin: DefaultBetaMin, BetaMax: DefaultBetaMax, Prediction: "score"},
			TSpan:   TSpanConfig{Start: 1, End: 0.001, Steps: 64},
		},
	},
}

// GetPreset returns a copy of the named preset. Callers may overwrite the
// solver or process without corrupting the shipped table.
func GetPreset(group, preset string) *Config {
	groupPresets, ok := Presets[group]
	if !ok {
		return nil
	}
	cfg, ok := groupPresets[preset]
	if !ok {
		return nil
	}
	out := *cfg
	if cfg.Solver != nil {
		sc := *cfg.Solver
		if cfg.Solver.Args != nil {
			sc.Args = make(map[string]any, len(cfg.Solver.Args))
			for k, v := range cfg.Solver.Args {
				sc.Args[k] = v
			}
		}
		out.Solver = &sc
	}
	if cfg.Process != nil {
		pc := *cfg.Process
		out.Process = &pc
	}
	return &out
}

func ListPresets(group string) []string {
	groupPresets, ok := Presets[group]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(groupPresets))
	for name := range groupPresets {
		names = append(names, name)
	}
	return names
}
