package improvement

import (
	"math"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
)

// DefaultPenaltyWeight scales constraint violations into the score
const DefaultPenaltyWeight = 100.0

// ObjectiveFunction turns the evaluator's rows for one candidate into a
// score. Lower scores are better: the evaluator already negates objectives.
type ObjectiveFunction interface {
	// Evaluate scores a candidate from one objective row (and constraint
	// row, if any) per realization index. ok is false when too few
	// realizations succeeded.
	Evaluate(objectives, constraints [][]float64, realizations []int) (score float64, ok bool)

	// Name returns the name of the objective function.
	Name() string
}

type bound struct {
	lower, upper *float64
	scale        float64
}

// WeightedObjective is the realization-weighted mean of the weighted and
// scaled objective sum, plus a penalty for violated output constraints.
// Rows containing NaN are failed realizations and are left out.
type WeightedObjective struct {
	weights     []float64
	scales      []float64
	bounds      []bound
	realWeights []float64
	minSuccess  int
	penalty     float64
}

// NewWeightedObjective builds the objective from the configured functions,
// constraints and realization weights.
func NewWeightedObjective(cfg *config.Config) *WeightedObjective {
	o := &WeightedObjective{
		realWeights: cfg.RealizationWeights(),
		minSuccess:  1,
		penalty:     DefaultPenaltyWeight,
	}
	for _, fn := range cfg.ObjectiveFunctions {
		o.weights = append(o.weights, valueOr(fn.Weight, 1))
		o.scales = append(o.scales, nonZero(valueOr(fn.Scale, 1)))
	}
	for _, c := range cfg.OutputConstraints {
		o.bounds = append(o.bounds, bound{lower: c.LowerBound, upper: c.UpperBound, scale: nonZero(valueOr(c.Scale, 1))})
	}
	if cfg.Optimization != nil && cfg.Optimization.MinRealizationsSuccess > 0 {
		o.minSuccess = cfg.Optimization.MinRealizationsSuccess
	}
	return o
}

// WithPenaltyWeight sets the factor applied to constraint violations
func (o *WeightedObjective) WithPenaltyWeight(w float64) *WeightedObjective {
	o.penalty = w
	return o
}

func (o *WeightedObjective) Name() string {
	return "weighted_objective"
}

func (o *WeightedObjective) Evaluate(objectives, constraints [][]float64, realizations []int) (float64, bool) {
	var total, weightSum float64
	succeeded := 0
	for i, row := range objectives {
		if len(row) != len(o.weights) || utils.HasNaN(row) {
			continue
		}
		var conRow []float64
		if constraints != nil {
			conRow = constraints[i]
			if utils.HasNaN(conRow) {
				continue
			}
		}

		value := 0.0
		for j, v := range row {
			value += o.weights[j] * v / o.scales[j]
		}
		value += o.violation(conRow)

		w := 1.0
		if r := realizations[i]; r >= 0 && r < len(o.realWeights) {
			w = o.realWeights[r]
		}
		total += w * value
		weightSum += w
		succeeded++
	}

	if succeeded < o.minSuccess || weightSum == 0 {
		return math.Inf(1), false
	}
	return total / weightSum, true
}

// violation returns the penalty for one constraint row
func (o *WeightedObjective) violation(row []float64) float64 {
	sum := 0.0
	for j, v := range row {
		if j >= len(o.bounds) {
			break
		}
		b := o.bounds[j]
		if b.upper != nil && v > *b.upper {
			sum += (v - *b.upper) / b.scale
		}
		if b.lower != nil && v < *b.lower {
			sum += (*b.lower - v) / b.scale
		}
	}
	return o.penalty * sum
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return math.Abs(v)
}
