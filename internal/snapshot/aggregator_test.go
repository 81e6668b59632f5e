package snapshot

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
	"github.com/google/go-cmp/cmp"
)

func stepEvent(sim, step int, name string, status models.StepStatus) models.StatusEvent {
	return models.StatusEvent{
		Type:        models.EventForwardModelStep,
		Simulation:  sim,
		Realization: sim + 10,
		Step:        step,
		StepName:    name,
		Status:      status,
	}
}

func TestMergeTerminalIsSticky(t *testing.T) {
	agg := NewAggregator(0, nil)

	agg.Merge(stepEvent(0, 0, "distance", models.StepStatusRunning))
	agg.Merge(stepEvent(0, 0, "distance", models.StepStatusFinished))

	if changed := agg.Merge(stepEvent(0, 0, "distance", models.StepStatusRunning)); changed {
		t.Error("late running event should not change a finished step")
	}
	if changed := agg.Merge(stepEvent(0, 0, "distance", models.StepStatusFailed)); changed {
		t.Error("a different terminal event should be ignored")
	}
	if got := agg.StepStatus(0, 0); got != models.StepStatusFinished {
		t.Errorf("StepStatus = %s, want Finished", got)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	agg := NewAggregator(2, nil)
	events := []models.StatusEvent{
		stepEvent(1, 0, "a", models.StepStatusPending),
		stepEvent(1, 0, "a", models.StepStatusRunning),
		stepEvent(1, 0, "a", models.StepStatusFinished),
		stepEvent(0, 0, "a", models.StepStatusRunning),
	}
	for _, ev := range events {
		agg.Merge(ev)
	}
	before := agg.Snapshot()

	for _, ev := range events {
		agg.Merge(ev)
	}
	if diff := cmp.Diff(before, agg.Snapshot()); diff != "" {
		t.Errorf("re-delivery changed the snapshot (-before +after):\n%s", diff)
	}
}

func TestMergeFillsMissingTimes(t *testing.T) {
	agg := NewAggregator(0, nil)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)

	agg.Merge(stepEvent(0, 0, "a", models.StepStatusFinished))

	ev := stepEvent(0, 0, "a", models.StepStatusFinished)
	ev.StartTime = &start
	ev.EndTime = &end
	if !agg.Merge(ev) {
		t.Fatal("expected timestamps to be filled in")
	}

	p := agg.Snapshot().Progress[0][0]
	if p.StartTime == nil || !p.StartTime.Equal(start) || p.EndTime == nil || !p.EndTime.Equal(end) {
		t.Errorf("timestamps not filled: %+v", p)
	}
}

func TestMergeDoesNotRegressNonTerminal(t *testing.T) {
	agg := NewAggregator(0, nil)
	agg.Merge(stepEvent(0, 0, "a", models.StepStatusRunning))
	agg.Merge(stepEvent(0, 0, "a", models.StepStatusPending))

	if got := agg.StepStatus(0, 0); got != models.StepStatusRunning {
		t.Errorf("StepStatus = %s, want Running", got)
	}
}

func TestSnapshotGrouping(t *testing.T) {
	agg := NewAggregator(5, nil)

	agg.Merge(stepEvent(1, 1, "second", models.StepStatusRunning))
	agg.Merge(stepEvent(0, 0, "first", models.StepStatusFinished))
	agg.Merge(stepEvent(1, 0, "first", models.StepStatusFinished))
	agg.Merge(stepEvent(2, 0, "first", models.StepStatusFailed))

	snap := agg.Snapshot()
	if snap.BatchNumber != 5 {
		t.Errorf("BatchNumber = %d, want 5", snap.BatchNumber)
	}
	if len(snap.Progress) != 3 {
		t.Fatalf("expected 3 simulations, got %d", len(snap.Progress))
	}

	var names []string
	for _, j := range snap.Progress[1] {
		names = append(names, j.Name)
	}
	if diff := cmp.Diff([]string{"second", "first"}, names); diff != "" {
		t.Errorf("step order should follow first ingestion (-want +got):\n%s", diff)
	}
	if snap.Progress[0][0].Realization != 10 {
		t.Errorf("Realization = %d, want 10", snap.Progress[0][0].Realization)
	}

	wantCounts := map[models.StepStatus]int{
		models.StepStatusFinished: 1,
		models.StepStatusRunning:  1,
		models.StepStatusFailed:   1,
	}
	if diff := cmp.Diff(wantCounts, snap.Status); diff != "" {
		t.Errorf("status counts mismatch (-want +got):\n%s", diff)
	}
	if snap.EnsembleStatus != models.StepStatusFailed {
		t.Errorf("EnsembleStatus = %s, want Failed", snap.EnsembleStatus)
	}

	if !agg.Succeeded(0) || agg.Succeeded(1) || agg.Succeeded(2) || agg.Succeeded(9) {
		t.Error("Succeeded should hold only for simulation 0")
	}
}

func TestEnsembleEvents(t *testing.T) {
	agg := NewAggregator(0, nil)
	agg.Merge(stepEvent(0, 0, "a", models.StepStatusFinished))

	if !agg.Merge(models.StatusEvent{Type: models.EventEnsembleCancelled}) {
		t.Fatal("ensemble event should change the view")
	}
	if agg.Merge(models.StatusEvent{Type: models.EventEnsembleCancelled}) {
		t.Error("repeated ensemble event should be a no-op")
	}
	if got := agg.Snapshot().EnsembleStatus; got != models.StepStatusFailed {
		t.Errorf("EnsembleStatus = %s, want Failed", got)
	}
	if agg.EnsembleEvent() != models.EventEnsembleCancelled {
		t.Errorf("EnsembleEvent = %s", agg.EnsembleEvent())
	}
}

func TestSnapshotUnknownStepName(t *testing.T) {
	agg := NewAggregator(0, nil)
	agg.Merge(stepEvent(0, 0, "", models.StepStatusRunning))

	if got := agg.Snapshot().Progress[0][0].Name; got != "Unknown" {
		t.Errorf("Name = %q, want Unknown", got)
	}
}

func TestFailedStepReportsToLedger(t *testing.T) {
	var buf bytes.Buffer
	ledger := NewErrorLedger(slog.New(slog.NewTextHandler(&buf, nil)))

	dir := t.TempDir()
	stderr := filepath.Join(dir, "fail.stderr")
	if err := os.WriteFile(stderr, []byte("disk full\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	agg := NewAggregator(3, ledger)
	ev := stepEvent(1, 0, "fail", models.StepStatusFailed)
	ev.Error = "exit status 1"
	ev.StderrPath = stderr
	agg.Merge(ev)
	agg.Merge(ev)

	entries := ledger.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	if entries[0].Content != "disk full\n" {
		t.Errorf("Content = %q, want stderr file content", entries[0].Content)
	}
	if diff := cmp.Diff([]string{"b_3_r_11_s_1_fail"}, entries[0].Occurrences); diff != "" {
		t.Errorf("occurrences mismatch (-want +got):\n%s", diff)
	}
	if n := strings.Count(buf.String(), "Failed"); n != 1 {
		t.Errorf("expected one log line, got %d:\n%s", n, buf.String())
	}
}

func TestFailedStepWithoutErrorIsNotReported(t *testing.T) {
	var buf bytes.Buffer
	ledger := NewErrorLedger(slog.New(slog.NewTextHandler(&buf, nil)))
	agg := NewAggregator(0, ledger)

	agg.Merge(stepEvent(0, 0, "a", models.StepStatusFailed))
	agg.Merge(stepEvent(1, 0, "a", models.StepStatusFailed))

	if n := ledger.Len(); n != 0 {
		t.Errorf("ledger has %d entries for failures without error text: %v", n, ledger.Entries())
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be logged:\n%s", buf.String())
	}
}

func TestFailedStepReportedWhenErrorArrivesLater(t *testing.T) {
	var buf bytes.Buffer
	ledger := NewErrorLedger(slog.New(slog.NewTextHandler(&buf, nil)))
	agg := NewAggregator(0, ledger)

	agg.Merge(stepEvent(0, 0, "a", models.StepStatusFailed))
	agg.Merge(stepEvent(1, 0, "a", models.StepStatusFailed))

	late := stepEvent(0, 0, "a", models.StepStatusFailed)
	late.Error = "boom"
	if changed := agg.Merge(late); !changed {
		t.Error("error text on a re-delivered failure should change the view")
	}
	agg.Merge(late)

	want := []ErrorEntry{{ID: 0, Content: "boom", Occurrences: []string{"b_0_r_10_s_0_a"}}}
	if diff := cmp.Diff(want, ledger.Entries()); diff != "" {
		t.Errorf("ledger mismatch (-want +got):\n%s", diff)
	}
	if n := strings.Count(buf.String(), "Failed"); n != 1 {
		t.Errorf("expected one log line, got %d:\n%s", n, buf.String())
	}
	if got := agg.Snapshot().Progress[0][0].Error; got != "boom" {
		t.Errorf("snapshot error = %q, want boom", got)
	}
}

func TestFailedStepReportedWhenStderrArrivesLater(t *testing.T) {
	ledger := NewErrorLedger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	agg := NewAggregator(1, ledger)

	stderr := filepath.Join(t.TempDir(), "a.stderr")
	if err := os.WriteFile(stderr, []byte("segfault\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	agg.Merge(stepEvent(2, 0, "a", models.StepStatusFailed))
	late := stepEvent(2, 0, "a", models.StepStatusFailed)
	late.StderrPath = stderr
	agg.Merge(late)

	want := []ErrorEntry{{ID: 0, Content: "segfault\n", Occurrences: []string{"b_1_r_12_s_2_a"}}}
	if diff := cmp.Diff(want, ledger.Entries()); diff != "" {
		t.Errorf("ledger mismatch (-want +got):\n%s", diff)
	}
}
