package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config represents an ensemble optimization configuration
type Config struct {
	LogLevel           string              `yaml:"log_level"`
	Environment        *Environment        `yaml:"environment,omitempty"`
	Model              Model               `yaml:"model"`
	Controls           []Control           `yaml:"controls"`
	ObjectiveFunctions []ObjectiveFunction `yaml:"objective_functions"`
	OutputConstraints  []OutputConstraint  `yaml:"output_constraints,omitempty"`
	Simulator          *Simulator          `yaml:"simulator,omitempty"`
	Optimization       *Optimization       `yaml:"optimization,omitempty"`
	StatusCallback     *StatusCallback     `yaml:"status_callback,omitempty"`
	// ForwardModel lists the steps run for every simulation, in order,
	// e.g. "distance --target 0.5 0.5 0.5"
	ForwardModel []string `yaml:"forward_model"`
}

// Environment holds run-wide settings
type Environment struct {
	RandomSeed int64  `yaml:"random_seed"`
	OutputDir  string `yaml:"output_dir,omitempty"`
}

// Model describes the ensemble of model realizations
type Model struct {
	Realizations        []int     `yaml:"realizations"`
	RealizationsWeights []float64 `yaml:"realizations_weights,omitempty"`
}

// Control groups the variables of one control
type Control struct {
	Name      string            `yaml:"name"`
	Type      string            `yaml:"type"` // generic_control, well_control
	Min       *float64          `yaml:"min,omitempty"`
	Max       *float64          `yaml:"max,omitempty"`
	Variables []ControlVariable `yaml:"variables"`
}

// ControlVariable is one variable of a control. A variable is either plain,
// indexed (Index set), or a guess list (InitialGuess given as a sequence).
type ControlVariable struct {
	Name         string     `yaml:"name"`
	Index        *int       `yaml:"index,omitempty"`
	InitialGuess GuessValue `yaml:"initial_guess"`
	Min          *float64   `yaml:"min,omitempty"`
	Max          *float64   `yaml:"max,omitempty"`
}

// IsGuessList reports whether the variable expands into 1..N sub-indices
func (v ControlVariable) IsGuessList() bool {
	return v.InitialGuess.List
}

// GuessValue accepts either a scalar or a sequence of floats
type GuessValue struct {
	Values []float64
	List   bool
}

// UnmarshalYAML implements yaml.Unmarshaler
func (g *GuessValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v float64
		if err := node.Decode(&v); err != nil {
			return fmt.Errorf("initial_guess: %w", err)
		}
		g.Values = []float64{v}
		g.List = false
	case yaml.SequenceNode:
		var vs []float64
		if err := node.Decode(&vs); err != nil {
			return fmt.Errorf("initial_guess: %w", err)
		}
		g.Values = vs
		g.List = true
	default:
		return fmt.Errorf("initial_guess must be a number or a list of numbers")
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (g GuessValue) MarshalYAML() (any, error) {
	if g.List {
		return g.Values, nil
	}
	if len(g.Values) == 0 {
		return nil, nil
	}
	return g.Values[0], nil
}

// ObjectiveFunction names a response to maximize. An aliased objective reuses
// the response of another function instead of loading its own.
type ObjectiveFunction struct {
	Name   string   `yaml:"name"`
	Alias  string   `yaml:"alias,omitempty"`
	Weight *float64 `yaml:"weight,omitempty"`
	Scale  *float64 `yaml:"scale,omitempty"`
}

// OutputConstraint names a response bounded above and/or below
type OutputConstraint struct {
	Name       string   `yaml:"name"`
	UpperBound *float64 `yaml:"upper_bound,omitempty"`
	LowerBound *float64 `yaml:"lower_bound,omitempty"`
	Scale      *float64 `yaml:"scale,omitempty"`
}

// Simulator configures how batches are executed
type Simulator struct {
	EnableCache   bool   `yaml:"enable_cache"`
	DeleteRunPath bool   `yaml:"delete_run_path"`
	MaxRunning    int    `yaml:"max_running,omitempty"`
	SimulationDir string `yaml:"simulation_dir,omitempty"`
	RunpathFormat string `yaml:"runpath_format,omitempty"`
}

// Optimization configures the optimizer and the exit policy
type Optimization struct {
	MaxBatchNum            *int    `yaml:"max_batch_num,omitempty"`
	MaxFunctionEvaluations int     `yaml:"max_function_evaluations,omitempty"`
	MaxIterations          int     `yaml:"max_iterations,omitempty"`
	MinRealizationsSuccess int     `yaml:"min_realizations_success,omitempty"`
	StepSize               float64 `yaml:"step_size,omitempty"`
	ConvergenceTolerance   float64 `yaml:"convergence_tolerance,omitempty"`
}

// StatusCallback configures delivery of progress snapshots to an HTTP endpoint
type StatusCallback struct {
	URL        string `yaml:"url"`
	Secret     string `yaml:"secret,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
	Backoff    string `yaml:"backoff,omitempty"` // exponential, linear, constant
	BaseMs     int    `yaml:"base_ms,omitempty"`
}

// DefaultRunpathFormat is used when simulator.runpath_format is empty
const DefaultRunpathFormat = "<BATCH_NAME>/geo_realization_<GEO_ID>/simulation_<IENS>"

// ControlNames returns control names in declaration order
func (c *Config) ControlNames() []string {
	names := make([]string, 0, len(c.Controls))
	for _, ctrl := range c.Controls {
		names = append(names, ctrl.Name)
	}
	return names
}

// ObjectiveNames returns all objective names, aliased ones included
func (c *Config) ObjectiveNames() []string {
	names := make([]string, 0, len(c.ObjectiveFunctions))
	for _, obj := range c.ObjectiveFunctions {
		names = append(names, obj.Name)
	}
	return names
}

// ConstraintNames returns output constraint names
func (c *Config) ConstraintNames() []string {
	names := make([]string, 0, len(c.OutputConstraints))
	for _, con := range c.OutputConstraints {
		names = append(names, con.Name)
	}
	return names
}

// ResultNames returns the responses that must be loaded from storage:
// non-aliased objectives followed by constraints.
func (c *Config) ResultNames() []string {
	names := make([]string, 0, len(c.ObjectiveFunctions)+len(c.OutputConstraints))
	for _, obj := range c.ObjectiveFunctions {
		if obj.Alias == "" {
			names = append(names, obj.Name)
		}
	}
	return append(names, c.ConstraintNames()...)
}

// FunctionAliases maps an aliased objective name to the function it reuses
func (c *Config) FunctionAliases() map[string]string {
	aliases := make(map[string]string)
	for _, obj := range c.ObjectiveFunctions {
		if obj.Alias != "" {
			aliases[obj.Name] = obj.Alias
		}
	}
	return aliases
}

// CacheEnabled reports whether the tolerance cache is on
func (c *Config) CacheEnabled() bool {
	return c.Simulator != nil && c.Simulator.EnableCache
}

// DeleteRunPath reports whether finished run paths are removed after a batch
func (c *Config) DeleteRunPath() bool {
	return c.Simulator != nil && c.Simulator.DeleteRunPath
}

// MaxBatchNum returns the batch ceiling, if one is configured
func (c *Config) MaxBatchNum() (int, bool) {
	if c.Optimization == nil || c.Optimization.MaxBatchNum == nil {
		return 0, false
	}
	return *c.Optimization.MaxBatchNum, true
}

// RealizationWeights returns the configured weights, or equal weights
func (c *Config) RealizationWeights() []float64 {
	n := len(c.Model.Realizations)
	if len(c.Model.RealizationsWeights) == n && n > 0 {
		out := make([]float64, n)
		copy(out, c.Model.RealizationsWeights)
		return out
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = 1.0 / float64(n)
	}
	return out
}

// RandomSeed returns the configured seed, or zero when unset
func (c *Config) RandomSeed() int64 {
	if c.Environment == nil {
		return 0
	}
	return c.Environment.RandomSeed
}
