// internal/wuerr/errors.go
//
// Error taxonomy shared across LumenFlow packages. Each kind carries enough
// structure for the CLI's failure printer to render a headline, the
// offending values, and a short remediation list (spec.md §7).

package wuerr

import (
	"fmt"
	"strings"
)

// ValidationError reports schema, lint, placeholder, or reality-check
// failures. Never retried; surfaced at the call boundary.
type ValidationError struct {
	WUID        string
	Violations  []string
	Remediation []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.WUID, strings.Join(e.Violations, "; "))
}

// PreconditionError reports a wrong status, occupied lane, duplicate ID,
// missing WU, or a protected-branch cloud-mode attempt.
type PreconditionError struct {
	WUID        string
	Reason      string
	Remediation []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for %s: %s", e.WUID, e.Reason)
}

// RetryExhaustionError reports that a transient-infrastructure retry policy
// exhausted its attempt budget.
type RetryExhaustionError struct {
	Op       string
	Attempts int
	LastErr  error
}

func (e *RetryExhaustionError) Error() string {
	return fmt.Sprintf("%s: exhausted %d attempts: %v", e.Op, e.Attempts, e.LastErr)
}

func (e *RetryExhaustionError) Unwrap() error { return e.LastErr }

// ConflictError reports a true merge conflict; never retried.
type ConflictError struct {
	Paths []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict in: %s", strings.Join(e.Paths, ", "))
}

// DriftError reports a consistency-checker finding that is not
// auto-repairable.
type DriftError struct {
	Code   string
	WUID   string
	Detail string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("drift %s on %s: %s", e.Code, e.WUID, e.Detail)
}

// InternalError reports a broken indexer invariant. The caller should refuse
// to continue; the next load() re-derives state from the event log.
type InternalError struct {
	Detail string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal invariant violated: %s", e.Detail)
}

// Remediation extracts the suggested remediation commands from any error in
// this taxonomy that carries one, for the CLI's multi-line failure printer.
func Remediation(err error) []string {
	switch e := err.(type) {
	case *ValidationError:
		return e.Remediation
	case *PreconditionError:
		return e.Remediation
	default:
		return nil
	}
}
