package simd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
	"google.golang.org/protobuf/types/known/structpb"
)

var ErrUnknownStep = errors.New("unknown forward model step")

// Simulation is the input of one forward-model run
type Simulation struct {
	Ensemble    string
	Simulation  int
	Realization int
	RunPath     string
	Parameters  map[string]*structpb.Struct
	// Rand is derived from the run seed and the realization, so a
	// realization sees the same perturbation in every batch.
	Rand *utils.RandSource
}

// Step is one forward-model step. Responses returned by Run are stored for
// the simulation under their names.
type Step interface {
	Name() string
	Run(ctx context.Context, sim *Simulation) (map[string][]float64, error)
}

// ParseForwardModel builds the steps from their command lines, e.g.
// "distance --target 0.5 0.5 0.5 --noise 0.01".
func ParseForwardModel(lines []string) ([]Step, error) {
	steps := make([]Step, 0, len(lines))
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return nil, fmt.Errorf("forward_model step %d is empty", i)
		}
		var (
			step Step
			err  error
		)
		switch fields[0] {
		case "distance":
			step, err = parseDistance(fields[1:])
		case "fail":
			step, err = parseFail(fields[1:])
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownStep, fields[0])
		}
		if err != nil {
			return nil, fmt.Errorf("forward_model step %d (%s): %w", i, fields[0], err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// distanceStep reports the negative squared distance between a control's
// values and a target point, optionally perturbed with gaussian noise.
type distanceStep struct {
	control string
	output  string
	target  []float64
	noise   float64
}

func parseDistance(args []string) (*distanceStep, error) {
	s := &distanceStep{control: "point", output: "distance"}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--target":
			for i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
				v, err := strconv.ParseFloat(args[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("invalid target value %q", args[i+1])
				}
				s.target = append(s.target, v)
				i++
			}
		case "--noise":
			v, err := floatArg(args, &i)
			if err != nil {
				return nil, err
			}
			s.noise = v
		case "--control":
			v, err := stringArg(args, &i)
			if err != nil {
				return nil, err
			}
			s.control = v
		case "--output":
			v, err := stringArg(args, &i)
			if err != nil {
				return nil, err
			}
			s.output = v
		default:
			return nil, fmt.Errorf("unknown argument %q", args[i])
		}
	}
	if len(s.target) == 0 {
		return nil, errors.New("--target is required")
	}
	if s.noise < 0 {
		return nil, errors.New("--noise cannot be negative")
	}
	return s, nil
}

func (s *distanceStep) Name() string {
	return "distance"
}

func (s *distanceStep) Run(ctx context.Context, sim *Simulation) (map[string][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds, ok := sim.Parameters[s.control]
	if !ok {
		return nil, fmt.Errorf("control %s not found in parameters", s.control)
	}
	values := FlattenDataset(ds)

	target := s.target
	if len(target) == 1 && len(values) > 1 {
		target = make([]float64, len(values))
		for i := range target {
			target[i] = s.target[0]
		}
	}
	if len(target) != len(values) {
		return nil, fmt.Errorf("target has %d values, control %s has %d", len(target), s.control, len(values))
	}

	sum := 0.0
	for i, v := range values {
		d := v - target[i]
		sum += d * d
	}
	result := -sum
	if s.noise > 0 && sim.Rand != nil {
		result += sim.Rand.NormFloat64(0, s.noise)
	}
	return map[string][]float64{s.output: {result}}, nil
}

// failStep always fails, optionally only for some realizations
type failStep struct {
	message      string
	realizations map[int]bool
}

func parseFail(args []string) (*failStep, error) {
	s := &failStep{message: "forward model failed"}
	var words []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--realizations":
			v, err := stringArg(args, &i)
			if err != nil {
				return nil, err
			}
			s.realizations = make(map[int]bool)
			for _, part := range strings.Split(v, ",") {
				r, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil {
					return nil, fmt.Errorf("invalid realization %q", part)
				}
				s.realizations[r] = true
			}
		default:
			words = append(words, args[i])
		}
	}
	if len(words) > 0 {
		s.message = strings.Join(words, " ")
	}
	return s, nil
}

func (s *failStep) Name() string {
	return "fail"
}

func (s *failStep) Run(_ context.Context, sim *Simulation) (map[string][]float64, error) {
	if s.realizations != nil && !s.realizations[sim.Realization] {
		return nil, nil
	}
	return nil, errors.New(s.message)
}

// FlattenDataset returns the numbers of a control dataset ordered by variable
// name and then by numeric suffix.
func FlattenDataset(ds *structpb.Struct) []float64 {
	m := ds.AsMap()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []float64
	for _, name := range names {
		switch v := m[name].(type) {
		case float64:
			out = append(out, v)
		case map[string]any:
			suffixes := make([]string, 0, len(v))
			for sfx := range v {
				suffixes = append(suffixes, sfx)
			}
			sort.Slice(suffixes, func(i, j int) bool { return suffixLess(suffixes[i], suffixes[j]) })
			for _, sfx := range suffixes {
				if f, ok := v[sfx].(float64); ok {
					out = append(out, f)
				}
			}
		}
	}
	return out
}

func suffixLess(a, b string) bool {
	ai, errA := strconv.Atoi(a)
	bi, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}

func floatArg(args []string, i *int) (float64, error) {
	s, err := stringArg(args, i)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q for %s", s, args[*i-1])
	}
	return v, nil
}

func stringArg(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", fmt.Errorf("%s requires a value", args[*i])
	}
	*i++
	return args[*i], nil
}
