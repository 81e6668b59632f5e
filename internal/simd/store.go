package simd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	ErrEnsembleNotFound  = errors.New("ensemble not found")
	ErrResponseNotFound  = errors.New("response not found")
	ErrSimulationIndex   = errors.New("simulation index out of range")
	ErrEnsembleNameEmpty = errors.New("ensemble name is required")
)

type paramKey struct {
	control    string
	simulation int
}

type responseKey struct {
	name       string
	simulation int
}

// EnsembleRecord is one batch ensemble and everything stored for it
type EnsembleRecord struct {
	ID        string
	Name      string
	Size      int
	CreatedAt time.Time

	parameters map[paramKey]*structpb.Struct
	responses  map[responseKey][]float64
}

// EnsembleSummary is the listing view of an ensemble
type EnsembleSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Responses int       `json:"responses"`
}

// EnsembleStore keeps parameters and responses of every ensemble in memory
type EnsembleStore struct {
	mu        sync.RWMutex
	ensembles map[string]*EnsembleRecord
	order     []string
}

func NewEnsembleStore() *EnsembleStore {
	return &EnsembleStore{
		ensembles: make(map[string]*EnsembleRecord),
	}
}

// CreateEnsemble registers a new ensemble and returns its UUID
func (s *EnsembleStore) CreateEnsemble(_ context.Context, name string, size int) (string, error) {
	if name == "" {
		return "", ErrEnsembleNameEmpty
	}
	if size < 0 {
		return "", fmt.Errorf("ensemble size cannot be negative, got %d", size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := utils.GenerateID()
	s.ensembles[id] = &EnsembleRecord{
		ID:         id,
		Name:       name,
		Size:       size,
		CreatedAt:  time.Now().UTC(),
		parameters: make(map[paramKey]*structpb.Struct),
		responses:  make(map[responseKey][]float64),
	}
	s.order = append(s.order, id)
	return id, nil
}

// Summary returns the listing view of one ensemble
func (s *EnsembleStore) Summary(id string) (EnsembleSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.ensembles[id]
	if !ok {
		return EnsembleSummary{}, false
	}
	return summarize(rec), true
}

// List returns up to limit ensembles, newest first
func (s *EnsembleStore) List(limit int) []EnsembleSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	out := make([]EnsembleSummary, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, summarize(s.ensembles[s.order[i]]))
	}
	return out
}

// SaveParameters stores a copy of one control's dataset for a simulation
func (s *EnsembleStore) SaveParameters(_ context.Context, ensembleID, control string, simulation int, dataset *structpb.Struct) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(ensembleID, simulation)
	if err != nil {
		return err
	}
	rec.parameters[paramKey{control: control, simulation: simulation}] = proto.Clone(dataset).(*structpb.Struct)
	return nil
}

// Parameters returns copies of every control dataset saved for a simulation
func (s *EnsembleStore) Parameters(ensembleID string, simulation int) (map[string]*structpb.Struct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.lookup(ensembleID, simulation)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*structpb.Struct)
	for key, ds := range rec.parameters {
		if key.simulation == simulation {
			out[key.control] = proto.Clone(ds).(*structpb.Struct)
		}
	}
	return out, nil
}

// SaveResponse stores a response of one simulation
func (s *EnsembleStore) SaveResponse(ensembleID, name string, simulation int, values []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(ensembleID, simulation)
	if err != nil {
		return err
	}
	rec.responses[responseKey{name: name, simulation: simulation}] = utils.CloneFloat64s(values)
	return nil
}

// LoadResponse returns a copy of a stored response
func (s *EnsembleStore) LoadResponse(_ context.Context, ensembleID, name string, simulation int) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.lookup(ensembleID, simulation)
	if err != nil {
		return nil, err
	}
	values, ok := rec.responses[responseKey{name: name, simulation: simulation}]
	if !ok {
		return nil, fmt.Errorf("%w: %s for simulation %d", ErrResponseNotFound, name, simulation)
	}
	return utils.CloneFloat64s(values), nil
}

// ResponseNames lists the responses stored for a simulation, sorted
func (s *EnsembleStore) ResponseNames(ensembleID string, simulation int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.ensembles[ensembleID]
	if !ok {
		return nil
	}
	var names []string
	for key := range rec.responses {
		if key.simulation == simulation {
			names = append(names, key.name)
		}
	}
	sort.Strings(names)
	return names
}

// lookup requires the caller to hold the lock
func (s *EnsembleStore) lookup(ensembleID string, simulation int) (*EnsembleRecord, error) {
	rec, ok := s.ensembles[ensembleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEnsembleNotFound, ensembleID)
	}
	if simulation < 0 || simulation >= rec.Size {
		return nil, fmt.Errorf("%w: %d (size %d)", ErrSimulationIndex, simulation, rec.Size)
	}
	return rec, nil
}

func summarize(rec *EnsembleRecord) EnsembleSummary {
	return EnsembleSummary{
		ID:        rec.ID,
		Name:      rec.Name,
		Size:      rec.Size,
		CreatedAt: rec.CreatedAt,
		Responses: len(rec.responses),
	}
}
