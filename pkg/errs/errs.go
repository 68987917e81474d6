// Package errs defines the sentinel error taxonomy shared across counsel's
// packages. Callers use errors.Is/errors.As against the sentinels below
// rather than matching on error strings.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors identifying the broad category of a failure. Adapters,
// the graph store and the convergence engine wrap these with fmt.Errorf's
// %w so context survives while errors.Is still matches the category.
var (
	// ErrAdapterTimeout indicates a participant produced no output chunk
	// within the configured activity timeout.
	ErrAdapterTimeout = errors.New("adapter: activity timeout exceeded")

	// ErrAdapterInvocation indicates the backing process or HTTP call
	// failed to invoke (non-zero exit, transport error, malformed
	// response envelope).
	ErrAdapterInvocation = errors.New("adapter: invocation failed")

	// ErrConfigError indicates the loaded configuration is invalid or
	// incomplete for the requested operation.
	ErrConfigError = errors.New("config: invalid configuration")

	// ErrGraphUnavailable indicates the decision-graph store could not be
	// opened or is disabled; callers should degrade to a stateless run.
	ErrGraphUnavailable = errors.New("graph: decision graph unavailable")

	// ErrConvergenceBackendUnavailable indicates the configured similarity
	// backend could not be constructed and no fallback was available.
	ErrConvergenceBackendUnavailable = errors.New("convergence: similarity backend unavailable")

	// ErrParseError indicates a participant response could not be parsed
	// into the expected vote/position structure.
	ErrParseError = errors.New("vote: response parse failed")

	// ErrCancelled indicates the operation was cancelled via context
	// before it completed, distinct from a timeout.
	ErrCancelled = errors.New("deliberation: cancelled")
)

// AdapterError wraps ErrAdapterTimeout or ErrAdapterInvocation with the
// participant and underlying cause for logging and errors.As extraction.
type AdapterError struct {
	Participant string
	Err         error
	Cause       error
}

func (e *AdapterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("participant %q: %v: %v", e.Participant, e.Err, e.Cause)
	}
	return fmt.Sprintf("participant %q: %v", e.Participant, e.Err)
}

func (e *AdapterError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// NewAdapterTimeout builds an AdapterError wrapping ErrAdapterTimeout.
func NewAdapterTimeout(participant string, cause error) error {
	return &AdapterError{Participant: participant, Err: ErrAdapterTimeout, Cause: cause}
}

// NewAdapterInvocation builds an AdapterError wrapping ErrAdapterInvocation.
func NewAdapterInvocation(participant string, cause error) error {
	return &AdapterError{Participant: participant, Err: ErrAdapterInvocation, Cause: cause}
}
