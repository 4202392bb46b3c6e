package domain

import (
	"errors"
	"fmt"
)

// The pipeline distinguishes four failure kinds. Workers record the kind in
// the ledger; the dispatch layer decides retry behavior from it.

// MissingInputError means the raw snapshot for the unit is not yet available.
// Callers should not retry immediately; they should wait for upstream.
type MissingInputError struct {
	Symbol string
	Date   string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing input: no raw snapshot for %s on %s", e.Symbol, e.Date)
}

// TransientComputeError wraps a retryable failure (rate limit, network blip).
// The dispatch layer retries these up to a bounded attempt count.
type TransientComputeError struct {
	Op  string
	Err error
}

func (e *TransientComputeError) Error() string {
	return fmt.Sprintf("transient compute error in %s: %v", e.Op, e.Err)
}

func (e *TransientComputeError) Unwrap() error { return e.Err }

// PermanentComputeError is unrecoverable (malformed entity, bad upstream data).
// Marked failed, never retried automatically, surfaced for manual inspection.
type PermanentComputeError struct {
	Reason string
	Err    error
}

func (e *PermanentComputeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent compute error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent compute error: %s", e.Reason)
}

func (e *PermanentComputeError) Unwrap() error { return e.Err }

// ErrLedgerConflict is returned when a status transition loses a race or
// violates the monotonic state machine. The loser's write is discarded; the
// winner's result stands, so this is logged but has no user-visible effect.
var ErrLedgerConflict = errors.New("ledger: conflicting status transition")

// ErrJobNotFound is returned when a ledger lookup finds no row.
var ErrJobNotFound = errors.New("ledger: job not found")

// IsMissingInput reports whether err is (or wraps) a MissingInputError.
func IsMissingInput(err error) bool {
	var target *MissingInputError
	return errors.As(err, &target)
}

// IsTransient reports whether err is (or wraps) a TransientComputeError.
func IsTransient(err error) bool {
	var target *TransientComputeError
	return errors.As(err, &target)
}

// IsPermanent reports whether err is (or wraps) a PermanentComputeError.
func IsPermanent(err error) bool {
	var target *PermanentComputeError
	return errors.As(err, &target)
}

// ErrorKind returns a short label for an error, for ledger rows and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsMissingInput(err):
		return "missing_input"
	case IsPermanent(err):
		return "permanent"
	case IsTransient(err):
		return "transient"
	case errors.Is(err, ErrLedgerConflict):
		return "ledger_conflict"
	default:
		return "unknown"
	}
}
