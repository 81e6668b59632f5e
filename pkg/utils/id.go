package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a random UUID
func GenerateID() string {
	return uuid.NewString()
}

// ExperimentName returns the name used for a new optimization experiment
func ExperimentName(now time.Time) string {
	return "EnOpt@" + now.Format("2006-01-02@15:04:05")
}

// BatchName returns the ensemble name for a batch id
func BatchName(batchID int) string {
	return fmt.Sprintf("batch_%d", batchID)
}

// OccurrenceID identifies one failing forward-model step within a run
func OccurrenceID(batchID, realization, simulation int, stepName string) string {
	return fmt.Sprintf("b_%d_r_%d_s_%d_%s", batchID, realization, simulation, stepName)
}
