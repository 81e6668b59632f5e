package evaluator

import (
	"context"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
	"google.golang.org/protobuf/types/known/structpb"
)

// ExecutionService runs the simulations of a batch. Dispatch returns a
// channel that carries every status event of the ensemble and is closed once
// the ensemble completed.
type ExecutionService interface {
	CreateEnsemble(ctx context.Context, name string, size int) (string, error)
	Dispatch(ctx context.Context, ensembleID string, runs []models.RunRequest) (<-chan models.StatusEvent, error)
}

// Storage persists parameters and serves responses per simulation
type Storage interface {
	SaveParameters(ctx context.Context, ensembleID, control string, simulation int, dataset *structpb.Struct) error
	LoadResponse(ctx context.Context, ensembleID, name string, simulation int) ([]float64, error)
}

// StatusCallback receives a snapshot whenever the batch status changed
type StatusCallback func(status *models.SimulationStatus)
