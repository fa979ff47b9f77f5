package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork is returned when the ledger could not be reached or did not
	// answer in time. Safe to retry on a later invocation.
	ErrNetwork = errors.New("ledger network error")

	// ErrRateLimited is returned when the ledger throttled the request.
	// Safe to retry on a later invocation.
	ErrRateLimited = errors.New("rate limited by ledger")

	// ErrUnsupportedOnNetwork is returned for operations that make no sense on
	// the targeted network, such as funding requests on production.
	ErrUnsupportedOnNetwork = errors.New("operation not supported on network")

	// ErrRemoteRejected is matched by every RemoteRejectedError.
	ErrRemoteRejected = errors.New("operation rejected by ledger")

	// ErrInvalidParams is returned when provisioning parameters cannot be used.
	ErrInvalidParams = errors.New("invalid provisioning parameters")

	// ErrStateLocked is returned when another process holds the state record.
	ErrStateLocked = errors.New("provisioning state is locked by another process")
)

// CorruptStateError reports a persisted record that exists but cannot be
// interpreted. Callers treat the record as absent after surfacing a warning.
type CorruptStateError struct {
	Key StateKey
	Err error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt provisioning state for %s: %v", e.Key, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// InsufficientResourcesError is returned when the identity cannot pay for the
// next step. No remote mutation has been attempted when it is returned.
type InsufficientResourcesError struct {
	Identity Identity
	Balance  uint64
	Required uint64
}

func (e *InsufficientResourcesError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: have %d, need at least %d", e.Identity, e.Balance, e.Required)
}

// RemoteRejectedError carries the diagnostic returned by the ledger when it
// refused a mutating operation.
type RemoteRejectedError struct {
	Op         string
	Diagnostic string
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("%s rejected by ledger: %s", e.Op, e.Diagnostic)
}

// Is makes errors.Is(err, ErrRemoteRejected) hold for every RemoteRejectedError.
func (e *RemoteRejectedError) Is(target error) bool {
	return target == ErrRemoteRejected
}

// StepError wraps the failure of a single provisioning step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a failure that may succeed when retried
// later without changing any parameter.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited)
}
