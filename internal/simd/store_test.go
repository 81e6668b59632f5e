package simd

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"google.golang.org/protobuf/testing/protocmp"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestEnsembleStoreCreate(t *testing.T) {
	s := NewEnsembleStore()
	ctx := context.Background()

	id, err := s.CreateEnsemble(ctx, "batch_0", 3)
	if err != nil {
		t.Fatalf("CreateEnsemble: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("ensemble id %q is not a UUID: %v", id, err)
	}

	if _, err := s.CreateEnsemble(ctx, "", 1); !errors.Is(err, ErrEnsembleNameEmpty) {
		t.Errorf("expected ErrEnsembleNameEmpty, got %v", err)
	}
	if _, err := s.CreateEnsemble(ctx, "batch_1", -1); err == nil {
		t.Error("expected error for negative size")
	}

	second, _ := s.CreateEnsemble(ctx, "batch_1", 1)
	list := s.List(10)
	if len(list) != 2 || list[0].ID != second || list[1].ID != id {
		t.Errorf("List should return newest first, got %+v", list)
	}
	if got := s.List(1); len(got) != 1 {
		t.Errorf("List(1) returned %d ensembles", len(got))
	}
}

func TestEnsembleStoreParameters(t *testing.T) {
	s := NewEnsembleStore()
	ctx := context.Background()
	id, _ := s.CreateEnsemble(ctx, "batch_0", 2)

	ds, err := structpb.NewStruct(map[string]any{"x": 0.25})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveParameters(ctx, id, "point", 1, ds); err != nil {
		t.Fatalf("SaveParameters: %v", err)
	}
	ds.Fields["x"] = structpb.NewNumberValue(99)

	got, err := s.Parameters(id, 1)
	if err != nil {
		t.Fatalf("Parameters: %v", err)
	}
	want, _ := structpb.NewStruct(map[string]any{"x": 0.25})
	if diff := cmp.Diff(map[string]*structpb.Struct{"point": want}, got, protocmp.Transform()); diff != "" {
		t.Errorf("stored parameters mismatch (-want +got):\n%s", diff)
	}

	if err := s.SaveParameters(ctx, id, "point", 2, ds); !errors.Is(err, ErrSimulationIndex) {
		t.Errorf("expected ErrSimulationIndex, got %v", err)
	}
	if err := s.SaveParameters(ctx, "missing", "point", 0, ds); !errors.Is(err, ErrEnsembleNotFound) {
		t.Errorf("expected ErrEnsembleNotFound, got %v", err)
	}
}

func TestEnsembleStoreResponses(t *testing.T) {
	s := NewEnsembleStore()
	ctx := context.Background()
	id, _ := s.CreateEnsemble(ctx, "batch_0", 1)

	values := []float64{1.5, -2}
	if err := s.SaveResponse(id, "distance", 0, values); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	values[0] = 42

	got, err := s.LoadResponse(ctx, id, "distance", 0)
	if err != nil {
		t.Fatalf("LoadResponse: %v", err)
	}
	if diff := cmp.Diff([]float64{1.5, -2}, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.LoadResponse(ctx, id, "rate", 0); !errors.Is(err, ErrResponseNotFound) {
		t.Errorf("expected ErrResponseNotFound, got %v", err)
	}
	if names := s.ResponseNames(id, 0); !cmp.Equal(names, []string{"distance"}) {
		t.Errorf("ResponseNames = %v", names)
	}
	if summary, _ := s.Summary(id); summary.Responses != 1 {
		t.Errorf("summary responses = %d, want 1", summary.Responses)
	}
}
