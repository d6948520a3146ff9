// Package config is the yaml configuration surface of the sampling engine:
// state shape, default solver, model and process settings, plus named
// presets for the CLI.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mkrein/genflow/internal/solver"
	"github.com/mkrein/genflow/internal/state"
)

const (
	DefaultSteps   = 32
	DefaultSeed    = 42
	DefaultHidden  = 64
	DefaultTheta   = 1.0
	DefaultBetaMin = 0.1
	DefaultBetaMax = 20.0
)

type Config struct {
	XSize         XSize          `yaml:"x_size"`
	Device        string         `yaml:"device"`
	UseTreeTensor bool           `yaml:"use_tree_tensor"`
	Seed          int64          `yaml:"seed"`
	Model         ModelConfig    `yaml:"model"`
	Solver        *solver.Config `yaml:"solver"`
	Process       *ProcessConfig `yaml:"process"`
	TSpan         TSpanConfig    `yaml:"t_span"`
}

type ModelConfig struct {
	Type   string  `yaml:"type"`
	Hidden int     `yaml:"hidden"`
	Theta  float64 `yaml:"theta"`
	Mu     float64 `yaml:"mu"`
}

type ProcessConfig struct {
	BetaMin    float64 `yaml:"beta_min"`
	BetaMax    float64 `yaml:"beta_max"`
	Prediction string  `yaml:"prediction"`
}

type TSpanConfig struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
	Steps int     `yaml:"steps"`
}

// Points expands the span into evenly spaced time points.
func (t TSpanConfig) Points() []float64 {
	steps := t.Steps
	if steps < 2 {
		steps = DefaultSteps
	}
	pts := make([]float64, steps)
	for i := range pts {
		pts[i] = t.Start + (t.End-t.Start)*float64(i)/float64(steps-1)
	}
	return pts
}

// XSize is the flexible x_size field: a scalar dimension, a dimension
// list, or a mapping from field name to either.
type XSize struct {
	dims   []int
	fields map[string][]int
}

// FlatDims builds a flat XSize.
func FlatDims(dims ...int) XSize { return XSize{dims: dims} }

// FieldDims builds a per-field XSize.
func FieldDims(fields map[string][]int) XSize { return XSize{fields: fields} }

func decodeDims(node *yaml.Node) ([]int, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		var d int
		if err := node.Decode(&d); err != nil {
			return nil, err
		}
		return []int{d}, nil
	case yaml.SequenceNode:
		var dims []int
		if err := node.Decode(&dims); err != nil {
			return nil, err
		}
		return dims, nil
	}
	return nil, fmt.Errorf("config: x_size entry must be an integer or a list")
}

func (x *XSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var raw map[string]yaml.Node
		if err := node.Decode(&raw); err != nil {
			return err
		}
		fields := make(map[string][]int, len(raw))
		for name, sub := range raw {
			dims, err := decodeDims(&sub)
			if err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
			fields[name] = dims
		}
		*x = XSize{fields: fields}
		return nil
	}
	dims, err := decodeDims(node)
	if err != nil {
		return err
	}
	*x = XSize{dims: dims}
	return nil
}

func (x XSize) MarshalYAML() (any, error) {
	if x.fields != nil {
		return x.fields, nil
	}
	if len(x.dims) == 1 {
		return x.dims[0], nil
	}
	return x.dims, nil
}

// Spec turns the x_size field into a state spec, cross-checking the
// use_tree_tensor flag.
func (c *Config) Spec() (state.Spec, error) {
	if c.XSize.fields != nil {
		if !c.UseTreeTensor {
			return state.Spec{}, fmt.Errorf("%w: per-field x_size requires use_tree_tensor", state.ErrSpec)
		}
		fields := make(map[string]state.Shape, len(c.XSize.fields))
		for name, dims := range c.XSize.fields {
			fields[name] = state.Shape(dims)
		}
		return state.TreeSpec(fields)
	}
	if c.UseTreeTensor {
		return state.Spec{}, fmt.Errorf("%w: use_tree_tensor requires a per-field x_size", state.ErrSpec)
	}
	return state.FlatSpec(c.XSize.dims...)
}

func DefaultConfig() *Config {
	return &Config{
		XSize:  FlatDims(2),
		Device: "cpu",
		Seed:   DefaultSeed,
		Model:  ModelConfig{Type: "ou", Theta: DefaultTheta, Hidden: DefaultHidden},
		Solver: &solver.Config{Type: "rk4"},
		TSpan:  TSpanConfig{Start: 0, End: 1, Steps: DefaultSteps},
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
