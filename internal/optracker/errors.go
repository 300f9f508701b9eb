package optracker

import (
	"errors"
	"fmt"
)

// LifecycleError reports misuse of the register/unregister protocol.
//
// These are programming errors upstream of the tracker. The tracker panics
// with a *LifecycleError rather than continuing, since continuing would
// corrupt the in-flight and history invariants.
type LifecycleError struct {
	// Code identifies the violation.
	Code LifecycleErrorCode

	// Seq is the sequence number of the op, or 0 if it was never registered.
	Seq uint64

	// Message is a human-readable description.
	Message string
}

// LifecycleErrorCode categorizes lifecycle violations.
type LifecycleErrorCode string

const (
	// ErrCodeNotInFlight indicates an unregister of an op that is not a
	// current member of the in-flight set.
	ErrCodeNotInFlight LifecycleErrorCode = "NOT_IN_FLIGHT"

	// ErrCodeAlreadyRegistered indicates a second register of the same op.
	ErrCodeAlreadyRegistered LifecycleErrorCode = "ALREADY_REGISTERED"

	// ErrCodeForeignTracker indicates a register of an op that was built
	// by a different tracker.
	ErrCodeForeignTracker LifecycleErrorCode = "FOREIGN_TRACKER"
)

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	if e.Seq != 0 {
		return fmt.Sprintf("%s: %s (seq=%d)", e.Code, e.Message, e.Seq)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsLifecycleError reports whether v (an error or a recovered panic value)
// is a *LifecycleError, optionally with one of the given codes.
func IsLifecycleError(v any, codes ...LifecycleErrorCode) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	var le *LifecycleError
	if !errors.As(err, &le) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if le.Code == c {
			return true
		}
	}
	return false
}

func newNotInFlightError(seq uint64) *LifecycleError {
	return &LifecycleError{
		Code:    ErrCodeNotInFlight,
		Seq:     seq,
		Message: "op is not in the in-flight set",
	}
}

func newAlreadyRegisteredError(seq uint64) *LifecycleError {
	return &LifecycleError{
		Code:    ErrCodeAlreadyRegistered,
		Seq:     seq,
		Message: "op was already registered",
	}
}

func newForeignTrackerError(seq uint64) *LifecycleError {
	return &LifecycleError{
		Code:    ErrCodeForeignTracker,
		Seq:     seq,
		Message: "op was built by another tracker",
	}
}
