// Package herrors implements the §7 error taxonomy: every failure in the
// Hunter core is classified so the orchestrator can decide retry, degrade,
// or halt without string-matching error messages.
package herrors

import "fmt"

// Class is the §7 error taxonomy.
type Class string

const (
	ClassValidation       Class = "validation"        // config out-of-range, malformed bar, invalid credentials
	ClassExternalTransient Class = "external_transient" // exchange timeout, 5xx, WS disconnect
	ClassExternalPersistent Class = "external_persistent" // auth failure, symbol not found
	ClassStateViolation   Class = "state_violation"    // illegal position transition, duplicate signal
	ClassSafetyTrip       Class = "safety_trip"        // drawdown/correlation/emergency guards
	ClassFatal            Class = "fatal"              // inconsistent invariant — halt, never silently correct
)

// Error is a classified, context-carrying error. It wraps an underlying
// cause and never swallows it — callers can still errors.Is/As through Err.
type Error struct {
	Class     Class
	Component string
	Symbol    string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s[%s/%s]: %v", e.Class, e.Component, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Class, e.Component, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(class Class, component, symbol string, retryable bool, err error) *Error {
	return &Error{Class: class, Component: component, Symbol: symbol, Retryable: retryable, Err: err}
}

// Transient wraps err as an external-transient, retryable failure.
func Transient(component, symbol string, err error) *Error {
	return New(ClassExternalTransient, component, symbol, true, err)
}

// Persistent wraps err as an external-persistent, non-retryable failure
// that should mark the owning component degraded.
func Persistent(component, symbol string, err error) *Error {
	return New(ClassExternalPersistent, component, symbol, false, err)
}

// Fatal wraps err as a fatal invariant violation — the affected symbol
// must halt, never be silently corrected.
func Fatal(component, symbol string, err error) *Error {
	return New(ClassFatal, component, symbol, false, err)
}

// SafetyTrip wraps err as a safety-guard trip (drawdown, correlation,
// emergency protocol).
func SafetyTrip(component, symbol string, err error) *Error {
	return New(ClassSafetyTrip, component, symbol, false, err)
}

// StateViolation wraps err as an illegal state-machine transition attempt.
func StateViolation(component, symbol string, err error) *Error {
	return New(ClassStateViolation, component, symbol, false, err)
}

// Validation wraps err as an input/validation failure.
func Validation(component string, err error) *Error {
	return New(ClassValidation, component, "", false, err)
}

// IsRetryable reports whether err (if classified) should be retried
// locally by the adapter that produced it.
func IsRetryable(err error) bool {
	var he *Error
	if e, ok := err.(*Error); ok {
		he = e
	}
	return he != nil && he.Retryable
}
