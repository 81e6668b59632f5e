package simd

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/snapshot"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/logger"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusSource is the read side of a running experiment
type StatusSource interface {
	Status() *models.SimulationStatus
	ErrorLedger() *snapshot.ErrorLedger
	BatchID() int
}

type HTTPServer struct {
	mux      *http.ServeMux
	source   StatusSource
	store    *EnsembleStore
	executor *LocalExecutor
}

// NewHTTPServer creates the HTTP surface. store and executor may be nil when
// batches run on another execution service.
func NewHTTPServer(source StatusSource, store *EnsembleStore, executor *LocalExecutor) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		source:   source,
		store:    store,
		executor: executor,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/status", s.handleStatus)
	s.mux.HandleFunc("/v1/errors", s.handleErrors)
	s.mux.HandleFunc("/v1/ensembles", s.handleEnsembles)
	s.mux.HandleFunc("/v1/ensembles/", s.handleEnsembleByID)
	s.mux.Handle("/metrics", promhttp.Handler())

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles GET /v1/status
func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": s.source.BatchID(),
		"status":   s.source.Status(),
	})
}

// handleErrors handles GET /v1/errors
func (s *HTTPServer) handleErrors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries := []snapshot.ErrorEntry{}
	if ledger := s.source.ErrorLedger(); ledger != nil {
		entries = append(entries, ledger.Entries()...)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"errors": entries,
		"count":  len(entries),
	})
}

// handleEnsembles handles GET /v1/ensembles
func (s *HTTPServer) handleEnsembles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "no ensemble store")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = min(parsed, 1000)
		}
	}

	ensembles := s.store.List(limit)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ensembles": ensembles,
		"count":     len(ensembles),
	})
}

// handleEnsembleByID handles GET /v1/ensembles/{id} and POST /v1/ensembles/{id}:stop
func (s *HTTPServer) handleEnsembleByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/ensembles/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "ensemble ID is required")
		return
	}
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "no ensemble store")
		return
	}

	if strings.HasSuffix(path, ":stop") {
		id := strings.TrimSuffix(path, ":stop")
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.executor == nil || !s.executor.Stop(id) {
			s.writeError(w, http.StatusNotFound, "ensemble is not running")
			return
		}
		logger.Info("ensemble stop requested (HTTP)", "ensemble", id)
		s.writeJSON(w, http.StatusAccepted, map[string]any{"ensemble": id, "stopping": true})
		return
	}

	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summary, ok := s.store.Summary(path)
	if !ok {
		s.writeError(w, http.StatusNotFound, "ensemble not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ensemble": summary})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}
