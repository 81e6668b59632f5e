package policy

import (
	"sync"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/logger"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
)

// ExitPolicy decides whether the next batch may run and classifies how the
// run ended. The first recorded reason is final.
type ExitPolicy struct {
	mu          sync.Mutex
	maxBatchNum int
	hasMax      bool
	callback    OptimizationCallback
	recorded    *models.ExitCode
}

// NewExitPolicy creates an exit policy. The batch ceiling applies only when
// hasMax is set; callback may be nil.
func NewExitPolicy(maxBatchNum int, hasMax bool, callback OptimizationCallback) *ExitPolicy {
	return &ExitPolicy{
		maxBatchNum: maxBatchNum,
		hasMax:      hasMax,
		callback:    callback,
	}
}

var _ Policy = (*ExitPolicy)(nil)

// Enabled reports whether any before-dispatch check is configured: a batch
// ceiling or an optimization callback.
func (p *ExitPolicy) Enabled() bool {
	return p.hasMax || p.callback != nil
}

// Name implements Policy
func (p *ExitPolicy) Name() string {
	return "exit"
}

// BeforeEvaluation runs the before-dispatch checks for the batch about to get
// batchID. It returns true when the optimizer was asked to abort.
func (p *ExitPolicy) BeforeEvaluation(batchID int, optimizer Aborter) bool {
	logger.Debug("optimization callback called", "batch_id", batchID)

	aborted := false
	if p.hasMax && batchID+1 >= p.maxBatchNum {
		p.Record(models.ExitMaxBatchNumReached)
		logger.Info("maximum number of batches reached", "batch_id", batchID, "max_batch_num", p.maxBatchNum)
		aborted = true
	}
	if p.callback != nil && p.callback() == StopOptimization {
		p.Record(models.ExitUserAbort)
		logger.Info("user abort requested", "batch_id", batchID)
		aborted = true
	}

	if aborted && optimizer != nil {
		optimizer.AbortOptimization()
	}
	return aborted
}

// Record stores code unless a reason was already recorded. It reports
// whether code was stored.
func (p *ExitPolicy) Record(code models.ExitCode) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recorded != nil {
		return false
	}
	p.recorded = &code
	return true
}

// Resolve maps the optimizer's exit code to the run's exit code, keeping any
// reason recorded earlier.
func (p *ExitPolicy) Resolve(optimizerCode models.OptimizerExitCode) models.ExitCode {
	switch optimizerCode {
	case models.OptimizerMaxFunctionsReached:
		p.Record(models.ExitMaxFunctionsReached)
	case models.OptimizerUserAbort:
		p.Record(models.ExitUserAbort)
	case models.OptimizerTooFewRealizations:
		p.Record(models.ExitTooFewRealizations)
	default:
		p.Record(models.ExitCompleted)
	}
	return p.ExitCode()
}

// ExitCode returns the recorded exit code, or ExitCompleted when none was
// recorded yet.
func (p *ExitPolicy) ExitCode() models.ExitCode {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recorded == nil {
		return models.ExitCompleted
	}
	return *p.recorded
}

// Recorded reports whether an exit reason has been recorded
func (p *ExitPolicy) Recorded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recorded != nil
}
