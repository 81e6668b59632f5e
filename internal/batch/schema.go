package batch

import (
	"sort"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
)

// ParameterSchema is the expected parameter layout per control:
// variable name -> allowed suffixes (empty for plain variables).
type ParameterSchema map[string]map[string][]string

// SchemaFromControls derives the parameter schema the storage layer was
// initialized with from the control declarations.
func SchemaFromControls(controls []config.Control) ParameterSchema {
	schema := make(ParameterSchema, len(controls))
	for _, ctrl := range controls {
		vars, ok := schema[ctrl.Name]
		if !ok {
			vars = make(map[string][]string)
		}
		for _, v := range ctrl.Variables {
			switch {
			case v.IsGuessList():
				for i := 1; i <= len(v.InitialGuess.Values); i++ {
					vars[v.Name] = append(vars[v.Name], strconv.Itoa(i))
				}
			case v.Index != nil:
				vars[v.Name] = append(vars[v.Name], strconv.Itoa(*v.Index))
			default:
				if _, exists := vars[v.Name]; !exists {
					vars[v.Name] = []string{}
				}
			}
		}
		schema[ctrl.Name] = vars
	}
	return schema
}

// Validate checks that the assignment names exactly the schema's controls,
// variables and suffixes.
func (s ParameterSchema) Validate(a Assignment) error {
	if !sameKeys(s, a) {
		return mismatch("", "", "mismatch between initialized and provided control names: expected %v, got %v",
			sortedKeys(s), a.ControlNames())
	}

	for _, control := range a.ControlNames() {
		expected := s[control]
		provided := a[control]
		if len(expected) != len(provided) {
			return mismatch(control, "", "expected %d variables, received %d", len(expected), len(provided))
		}
		for _, name := range sortedKeys(provided) {
			suffixes, ok := expected[name]
			if !ok {
				return mismatch(control, name, "no such key")
			}
			if err := checkSuffixes(control, name, suffixes, provided[name]); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkSuffixes(control, key string, suffixes []string, v Value) error {
	if !v.HasSuffixes() {
		if len(suffixes) > 0 {
			return mismatch(control, key, "key has suffixes %v, a suffix must be specified", suffixes)
		}
		return nil
	}

	allowed := make(map[string]bool, len(suffixes))
	for _, sfx := range suffixes {
		allowed[sfx] = true
	}
	if len(v.Suffixes) != len(suffixes) {
		var missing []string
		for _, sfx := range suffixes {
			if _, ok := v.Suffixes[sfx]; !ok {
				missing = append(missing, sfx)
			}
		}
		if len(missing) > 0 {
			return mismatch(control, key, "missing values for suffixes: %s", strings.Join(missing, ", "))
		}
		return mismatch(control, key, "expected %d suffixes, received %d", len(suffixes), len(v.Suffixes))
	}
	for _, sfx := range sortedKeys(v.Suffixes) {
		if !allowed[sfx] {
			return mismatch(control, key, "key has suffixes %v, can't find the requested suffix %s", suffixes, sfx)
		}
	}
	return nil
}

func sameKeys[A, B any](a map[string]A, b map[string]B) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
