package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/logger"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
)

// Occurrence identifies one failed forward-model step
type Occurrence struct {
	Batch       int
	Realization int
	Simulation  int
	StepName    string
	// Error is the inline error text reported with the status event
	Error string
	// StderrPath is preferred over Error when it names a non-empty file
	StderrPath string
}

// ID returns the occurrence id b_<batch>_r_<realization>_s_<simulation>_<step>
func (o Occurrence) ID() string {
	return utils.OccurrenceID(o.Batch, o.Realization, o.Simulation, o.StepName)
}

// ErrorEntry is one distinct error message and every place it was seen
type ErrorEntry struct {
	ID          int      `json:"id"`
	Content     string   `json:"content"`
	Occurrences []string `json:"occurrences"`
}

// ErrorLedger deduplicates forward-model errors for the lifetime of a run.
// Each distinct error content is logged in full once; later occurrences only
// refer back to the first report.
type ErrorLedger struct {
	mu      sync.RWMutex
	log     *slog.Logger
	byKey   map[string]*ErrorEntry
	entries []*ErrorEntry
}

// NewErrorLedger creates a ledger that reports through log, or through the
// forward_models logger when log is nil.
func NewErrorLedger(log *slog.Logger) *ErrorLedger {
	if log == nil {
		log = logger.Named("forward_models")
	}
	return &ErrorLedger{
		log:   log,
		byKey: make(map[string]*ErrorEntry),
	}
}

// Report records an occurrence. It returns the error id and whether the
// occurrence was new. Occurrences without error content are not recorded
// and return -1.
func (l *ErrorLedger) Report(o Occurrence) (int, bool) {
	content := errorContent(o)
	key := strings.TrimSpace(content)
	if key == "" {
		return -1, false
	}
	occID := o.ID()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byKey[key]
	if !ok {
		entry = &ErrorEntry{ID: len(l.entries), Content: content, Occurrences: []string{occID}}
		l.byKey[key] = entry
		l.entries = append(l.entries, entry)
		l.log.Error(fmt.Sprintf("Batch: %d Realization: %d Simulation: %d Job: %s Failed",
			o.Batch, o.Realization, o.Simulation, o.StepName),
			"error", content,
			"error_id", entry.ID,
			"occurrence", occID,
		)
		return entry.ID, true
	}

	for _, seen := range entry.Occurrences {
		if seen == occID {
			return entry.ID, false
		}
	}
	entry.Occurrences = append(entry.Occurrences, occID)
	l.log.Error(fmt.Sprintf("Batch: %d Realization: %d Simulation: %d Job: %s Failed",
		o.Batch, o.Realization, o.Simulation, o.StepName),
		"error", fmt.Sprintf("Already reported as %d", entry.ID),
		"error_id", entry.ID,
		"occurrence", occID,
	)
	return entry.ID, true
}

// Entries returns a copy of all recorded errors ordered by id
func (l *ErrorLedger) Entries() []ErrorEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ErrorEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, ErrorEntry{
			ID:          e.ID,
			Content:     e.Content,
			Occurrences: append([]string(nil), e.Occurrences...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of distinct errors
func (l *ErrorLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func errorContent(o Occurrence) string {
	if o.StderrPath != "" {
		if data, err := os.ReadFile(o.StderrPath); err == nil && len(data) > 0 {
			return string(data)
		}
	}
	return o.Error
}
