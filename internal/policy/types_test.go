package policy

import (
	"testing"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
)

func TestNewPolicyManager(t *testing.T) {
	pm := NewPolicyManager(nil, nil)
	if pm == nil {
		t.Fatalf("expected PolicyManager to be created")
	}
	if pm.GetExit() == nil {
		t.Fatalf("expected exit policy to always be present")
	}
	if pm.GetRetry() != nil {
		t.Fatalf("expected no retry policy when nil")
	}

	maxBatch := 2
	cfg := &config.Config{
		Optimization: &config.Optimization{MaxBatchNum: &maxBatch},
		StatusCallback: &config.StatusCallback{
			URL:        "http://localhost:9000/status",
			MaxRetries: 3,
			Backoff:    "constant",
			BaseMs:     10,
		},
	}
	pm = NewPolicyManager(cfg, nil)
	if pm.GetRetry() == nil || !pm.GetRetry().Enabled() {
		t.Fatalf("expected enabled retry policy")
	}
	if pm.GetRetry().GetMaxRetries() != 3 {
		t.Fatalf("expected max retries 3, got %d", pm.GetRetry().GetMaxRetries())
	}
	if pm.GetExit().BeforeEvaluation(0, nil) {
		t.Fatalf("batch 0 should not reach max_batch_num 2")
	}
	if !pm.GetExit().BeforeEvaluation(1, nil) {
		t.Fatalf("batch 1 should reach max_batch_num 2")
	}
}
