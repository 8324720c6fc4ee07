// Package resilience protects callers of remote scoring backends with
// per-backend circuit breakers and bounded exponential-backoff retries.
package resilience

import (
	"errors"
	"fmt"
	"time"
)

// TransientBackendError is a network, timeout or overload failure. It is the
// only error class the retry policy retries.
type TransientBackendError struct {
	Backend string
	Err     error
}

func (e *TransientBackendError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("transient backend error: %v", e.Err)
	}
	return fmt.Sprintf("transient error from %s: %v", e.Backend, e.Err)
}

func (e *TransientBackendError) Unwrap() error {
	return e.Err
}

// PermanentInputError reports a malformed profile. It is never retried and
// never counted against a circuit breaker.
type PermanentInputError struct {
	Field  string
	Reason string
	Err    error
}

func (e *PermanentInputError) Error() string {
	msg := e.Reason
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid input in %s: %s", e.Field, msg)
	}
	return fmt.Sprintf("invalid input: %s", msg)
}

func (e *PermanentInputError) Unwrap() error {
	return e.Err
}

// CircuitOpenError is returned by a breaker that rejected a call without
// invoking the protected operation.
type CircuitOpenError struct {
	Backend string
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryIn > 0 {
		return fmt.Sprintf("circuit for %s is open, next probe in %s", e.Backend, e.RetryIn.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit for %s is open", e.Backend)
}

// ResponseError reports a backend answer that could not be used: bad status,
// unparseable body or sub-scores outside [0,100]. Retrying a deterministic
// backend would yield the same answer, so it is not retried, but it does
// count as a backend failure.
type ResponseError struct {
	Backend string
	Message string
	Err     error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bad response from %s: %s: %v", e.Backend, e.Message, e.Err)
	}
	return fmt.Sprintf("bad response from %s: %s", e.Backend, e.Message)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientBackendError for the named backend.
func Transient(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientBackendError{Backend: backend, Err: err}
}

// Permanent builds a PermanentInputError for the given field.
func Permanent(field, reason string) error {
	return &PermanentInputError{Field: field, Reason: reason}
}

func IsTransient(err error) bool {
	var target *TransientBackendError
	return errors.As(err, &target)
}

func IsPermanentInput(err error) bool {
	var target *PermanentInputError
	return errors.As(err, &target)
}

func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}

func IsResponse(err error) bool {
	var target *ResponseError
	return errors.As(err, &target)
}
