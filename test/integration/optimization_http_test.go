//go:build integration
// +build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/improvement"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/policy"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/simd"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("../../config/optimization.yaml")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Simulator.SimulationDir = t.TempDir()
	cfg.Environment.OutputDir = ""
	return cfg
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s: status %d: %s", url, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

// TestIntegration_OptimizationWithHTTPAndCallback runs the sample experiment
// end to end and inspects it through the HTTP surface and the status callback.
func TestIntegration_OptimizationWithHTTPAndCallback(t *testing.T) {
	cfg := loadConfig(t)

	var mu sync.Mutex
	var payloads []simd.NotificationPayload
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p simd.NotificationPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			mu.Lock()
			payloads = append(payloads, p)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer callback.Close()

	store := simd.NewEnsembleStore()
	exec, err := simd.NewLocalExecutor(store, cfg.ForwardModel, cfg.Simulator.MaxRunning, utils.NewRandSource(cfg.RandomSeed()))
	if err != nil {
		t.Fatalf("NewLocalExecutor: %v", err)
	}
	runner := improvement.NewRunner(cfg, exec, store)

	callbackURL := strings.Replace(callback.URL, "127.0.0.1", "localhost", 1) + "/status/{experiment}"
	notifier, err := simd.NewNotifier(callbackURL, "", runner.Name(), policy.NewRetryPolicy(false, 0, "", 0))
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	runner.WithStatusCallback(notifier.Notify)

	api := httptest.NewServer(simd.NewHTTPServer(runner.Evaluator(), store, exec).Handler())
	defer api.Close()

	result, err := runner.Run(context.Background())
	notifier.Wait()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.ExitCode != models.ExitCompleted && result.ExitCode != models.ExitMaxBatchNumReached {
		t.Errorf("exit code = %s (%s)", result.ExitCode, result.ExitReason)
	}
	if result.BestObjective == nil {
		t.Fatal("best objective is nil")
	}
	// The initial guess scores about -0.48 against the 0.5 target.
	if *result.BestObjective < -0.4 {
		t.Errorf("best objective = %v, want an improvement over the initial guess", *result.BestObjective)
	}
	if result.Batches > 11 {
		t.Errorf("batches = %d, max_batch_num is 12", result.Batches)
	}

	var status struct {
		BatchID int `json:"batch_id"`
	}
	getJSON(t, api.URL+"/v1/status", &status)
	if status.BatchID != result.Batches {
		t.Errorf("/v1/status batch_id = %d, want %d", status.BatchID, result.Batches)
	}

	var errs struct {
		Count int `json:"count"`
	}
	getJSON(t, api.URL+"/v1/errors", &errs)
	if errs.Count != 0 {
		t.Errorf("/v1/errors count = %d, want 0", errs.Count)
	}

	var list struct {
		Count int `json:"count"`
	}
	getJSON(t, api.URL+"/v1/ensembles?limit=1000", &list)
	if list.Count == 0 || list.Count > result.Batches {
		t.Errorf("/v1/ensembles count = %d, batches = %d", list.Count, result.Batches)
	}

	resp, err := http.Get(api.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "evaluator_") {
		t.Error("/metrics does not expose evaluator metrics")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) == 0 {
		t.Fatal("no status notifications received")
	}
	for _, p := range payloads {
		if p.Experiment != runner.Name() {
			t.Errorf("payload experiment = %q, want %q", p.Experiment, runner.Name())
		}
	}
}
