package batch

import (
	"path/filepath"
	"strconv"
	"strings"
)

// RunPaths renders per-simulation working directories from a format with
// <BATCH_NAME>, <GEO_ID> and <IENS> placeholders.
type RunPaths struct {
	root   string
	format string
}

// NewRunPaths creates a run path renderer below root
func NewRunPaths(root, format string) *RunPaths {
	return &RunPaths{root: root, format: format}
}

// Path returns the run path of one simulation
func (r *RunPaths) Path(batchName string, realization, simulation int) string {
	rep := strings.NewReplacer(
		"<BATCH_NAME>", batchName,
		"<GEO_ID>", strconv.Itoa(realization),
		"<IENS>", strconv.Itoa(simulation),
	)
	return filepath.Join(r.root, rep.Replace(r.format))
}
