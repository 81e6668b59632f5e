package config

import (
	"fmt"
	"os"
	"strings"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills optional sections so callers never see nil sections
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Environment == nil {
		cfg.Environment = &Environment{}
	}
	if cfg.Simulator == nil {
		cfg.Simulator = &Simulator{}
	}
	if cfg.Simulator.MaxRunning <= 0 {
		cfg.Simulator.MaxRunning = 4
	}
	if cfg.Simulator.SimulationDir == "" {
		cfg.Simulator.SimulationDir = "simulations"
	}
	if cfg.Simulator.RunpathFormat == "" {
		cfg.Simulator.RunpathFormat = DefaultRunpathFormat
	}
	if cfg.Optimization == nil {
		cfg.Optimization = &Optimization{}
	}
	if cfg.Optimization.MaxIterations <= 0 {
		cfg.Optimization.MaxIterations = 10
	}
	if cfg.Optimization.StepSize <= 0 {
		cfg.Optimization.StepSize = 0.1
	}
	if cfg.Optimization.MinRealizationsSuccess <= 0 {
		cfg.Optimization.MinRealizationsSuccess = 1
	}
	if cfg.Optimization.ConvergenceTolerance <= 0 {
		cfg.Optimization.ConvergenceTolerance = 1e-6
	}
	if cfg.StatusCallback != nil {
		if cfg.StatusCallback.Backoff == "" {
			cfg.StatusCallback.Backoff = "exponential"
		}
		if cfg.StatusCallback.BaseMs <= 0 {
			cfg.StatusCallback.BaseMs = 1000
		}
	}
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if err := validateModel(&cfg.Model); err != nil {
		return fmt.Errorf("model validation failed: %w", err)
	}

	if err := validateControls(cfg.Controls); err != nil {
		return fmt.Errorf("controls validation failed: %w", err)
	}

	if err := validateFunctions(cfg.ObjectiveFunctions, cfg.OutputConstraints); err != nil {
		return fmt.Errorf("functions validation failed: %w", err)
	}

	if len(cfg.ForwardModel) == 0 {
		return fmt.Errorf("at least one forward_model step must be defined")
	}
	for i, step := range cfg.ForwardModel {
		if strings.TrimSpace(step) == "" {
			return fmt.Errorf("forward_model step %d cannot be empty", i)
		}
	}

	if cfg.Simulator != nil && cfg.Simulator.MaxRunning < 0 {
		return fmt.Errorf("simulator max_running cannot be negative, got %d", cfg.Simulator.MaxRunning)
	}

	if cb := cfg.StatusCallback; cb != nil {
		if cb.URL == "" {
			return fmt.Errorf("status_callback url cannot be empty")
		}
		if cb.MaxRetries < 0 {
			return fmt.Errorf("status_callback max_retries cannot be negative, got %d", cb.MaxRetries)
		}
		validBackoffs := map[string]bool{"exponential": true, "linear": true, "constant": true}
		if !validBackoffs[cb.Backoff] {
			return fmt.Errorf("status_callback backoff %q must be exponential, linear, or constant", cb.Backoff)
		}
	}

	if cfg.Optimization != nil {
		if err := validateOptimization(cfg.Optimization); err != nil {
			return fmt.Errorf("optimization validation failed: %w", err)
		}
	}

	return nil
}

// validateModel validates realizations and their weights
func validateModel(m *Model) error {
	if len(m.Realizations) == 0 {
		return fmt.Errorf("at least one realization must be defined")
	}
	seen := make(map[int]bool)
	for _, r := range m.Realizations {
		if r < 0 {
			return fmt.Errorf("realization ids cannot be negative, got %d", r)
		}
		if seen[r] {
			return fmt.Errorf("duplicate realization: %d", r)
		}
		seen[r] = true
	}
	if len(m.RealizationsWeights) > 0 {
		if len(m.RealizationsWeights) != len(m.Realizations) {
			return fmt.Errorf("realizations_weights has %d entries, expected %d", len(m.RealizationsWeights), len(m.Realizations))
		}
		for i, w := range m.RealizationsWeights {
			if w < 0 {
				return fmt.Errorf("realizations_weights[%d] cannot be negative", i)
			}
		}
	}
	return nil
}

// validateControls validates control and variable declarations
func validateControls(controls []Control) error {
	if len(controls) == 0 {
		return fmt.Errorf("at least one control must be defined")
	}
	validTypes := map[string]bool{
		"generic_control": true,
		"well_control":    true,
	}
	names := make(map[string]bool)
	for _, ctrl := range controls {
		if ctrl.Name == "" {
			return fmt.Errorf("control name cannot be empty")
		}
		if names[ctrl.Name] {
			return fmt.Errorf("duplicate control name: %s", ctrl.Name)
		}
		names[ctrl.Name] = true
		if !validTypes[ctrl.Type] {
			return fmt.Errorf("control %s: invalid type %q (must be generic_control or well_control)", ctrl.Name, ctrl.Type)
		}
		if ctrl.Min != nil && ctrl.Max != nil && *ctrl.Min > *ctrl.Max {
			return fmt.Errorf("control %s: min cannot exceed max", ctrl.Name)
		}
		if len(ctrl.Variables) == 0 {
			return fmt.Errorf("control %s: at least one variable must be defined", ctrl.Name)
		}

		// Indexed variables may share a name, one entry per index.
		seen := make(map[string]bool)
		for _, v := range ctrl.Variables {
			if v.Name == "" {
				return fmt.Errorf("control %s: variable name cannot be empty", ctrl.Name)
			}
			if len(v.InitialGuess.Values) == 0 {
				return fmt.Errorf("control %s, variable %s: initial_guess is required", ctrl.Name, v.Name)
			}
			if v.IsGuessList() && v.Index != nil {
				return fmt.Errorf("control %s, variable %s: index cannot be combined with a list initial_guess", ctrl.Name, v.Name)
			}
			key := v.Name
			if v.Index != nil {
				if *v.Index < 0 {
					return fmt.Errorf("control %s, variable %s: index cannot be negative", ctrl.Name, v.Name)
				}
				key = fmt.Sprintf("%s.%d", v.Name, *v.Index)
			}
			if seen[key] {
				return fmt.Errorf("control %s: duplicate variable %s", ctrl.Name, key)
			}
			seen[key] = true
			if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
				return fmt.Errorf("control %s, variable %s: min cannot exceed max", ctrl.Name, v.Name)
			}
		}
	}
	return nil
}

// validateFunctions validates objectives, aliases and output constraints
func validateFunctions(objectives []ObjectiveFunction, constraints []OutputConstraint) error {
	if len(objectives) == 0 {
		return fmt.Errorf("at least one objective function must be defined")
	}
	names := make(map[string]bool)
	for _, obj := range objectives {
		if obj.Name == "" {
			return fmt.Errorf("objective function name cannot be empty")
		}
		if names[obj.Name] {
			return fmt.Errorf("duplicate function name: %s", obj.Name)
		}
		names[obj.Name] = true
		if obj.Weight != nil && *obj.Weight < 0 {
			return fmt.Errorf("objective %s: weight cannot be negative", obj.Name)
		}
		if obj.Scale != nil && *obj.Scale == 0 {
			return fmt.Errorf("objective %s: scale cannot be zero", obj.Name)
		}
	}
	for _, obj := range objectives {
		if obj.Alias == "" {
			continue
		}
		if obj.Alias == obj.Name {
			return fmt.Errorf("objective %s cannot alias itself", obj.Name)
		}
		target := findObjective(objectives, obj.Alias)
		if target == nil {
			return fmt.Errorf("objective %s aliases unknown function %s", obj.Name, obj.Alias)
		}
		if target.Alias != "" {
			return fmt.Errorf("objective %s aliases %s, which is itself an alias", obj.Name, obj.Alias)
		}
	}
	for _, con := range constraints {
		if con.Name == "" {
			return fmt.Errorf("output constraint name cannot be empty")
		}
		if names[con.Name] {
			return fmt.Errorf("duplicate function name: %s", con.Name)
		}
		names[con.Name] = true
		if con.UpperBound == nil && con.LowerBound == nil {
			return fmt.Errorf("output constraint %s: upper_bound or lower_bound is required", con.Name)
		}
		if con.UpperBound != nil && con.LowerBound != nil && *con.LowerBound > *con.UpperBound {
			return fmt.Errorf("output constraint %s: lower_bound exceeds upper_bound", con.Name)
		}
	}
	return nil
}

func findObjective(objectives []ObjectiveFunction, name string) *ObjectiveFunction {
	for i := range objectives {
		if objectives[i].Name == name {
			return &objectives[i]
		}
	}
	return nil
}

// validateOptimization validates the optimization configuration
func validateOptimization(o *Optimization) error {
	if o.MaxBatchNum != nil && *o.MaxBatchNum <= 0 {
		return fmt.Errorf("max_batch_num must be positive, got %d", *o.MaxBatchNum)
	}
	if o.MaxFunctionEvaluations < 0 {
		return fmt.Errorf("max_function_evaluations cannot be negative, got %d", o.MaxFunctionEvaluations)
	}
	return nil
}
