package batch

import (
	"errors"
	"fmt"
)

// ErrSchemaMismatch is matched by every SchemaMismatchError
var ErrSchemaMismatch = errors.New("schema mismatch")

// SchemaMismatchError reports an inconsistency between the control schema and
// a built assignment or control matrix. It aborts the batch before dispatch.
type SchemaMismatchError struct {
	Control string
	Key     string
	Reason  string
}

func (e *SchemaMismatchError) Error() string {
	switch {
	case e.Control != "" && e.Key != "":
		return fmt.Sprintf("schema mismatch: control %s, key %s: %s", e.Control, e.Key, e.Reason)
	case e.Control != "":
		return fmt.Sprintf("schema mismatch: control %s: %s", e.Control, e.Reason)
	default:
		return "schema mismatch: " + e.Reason
	}
}

// Is makes errors.Is(err, ErrSchemaMismatch) hold
func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

func mismatch(control, key, format string, args ...any) error {
	return &SchemaMismatchError{Control: control, Key: key, Reason: fmt.Sprintf(format, args...)}
}
