// Package errors provides structured error types shared across the
// orchestrator's components. FailedTo, FailedToWithDetails, DatabaseError,
// NetworkError and ParseError build on OperationError so that
// component/resource context survives wrapping and log output stays
// consistent regardless of which package raised the error; Wrapf and the
// validation, configuration, timeout and auth constructors return plain
// fmt errors.
package errors

import (
	"fmt"
	"strings"
)

// OperationError describes a failed operation with optional component and
// resource context. It implements error and errors.Unwrap so that
// errors.Is/errors.As keep working through the chain.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to %s", e.Operation)
	if e.Component != "" {
		fmt.Fprintf(&b, ", component: %s", e.Component)
	}
	if e.Resource != "" {
		fmt.Fprintf(&b, ", resource: %s", e.Resource)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ", cause: %s", e.Cause.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo builds the simplest operation error: an action and its cause.
func FailedTo(action string, cause error) error {
	if cause == nil {
		return &OperationError{Operation: action}
	}
	return &OperationError{Operation: action, Cause: cause}
}

// FailedToWithDetails builds an OperationError with component/resource
// context, for callers that want to report exactly where the failure
// happened (e.g. which backend Lambda, which store).
func FailedToWithDetails(operation, component, resource string, cause error) error {
	return &OperationError{
		Operation: operation,
		Component: component,
		Resource:  resource,
		Cause:     cause,
	}
}

// Wrapf wraps err with additional formatted context, or returns nil if err
// is nil. The wrapped error message reads "<context>: <original>".
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// DatabaseError builds an OperationError scoped to the "database" component.
func DatabaseError(operation string, cause error) error {
	return FailedToWithDetails(operation, "database", "", cause)
}

// NetworkError builds an OperationError scoped to the "network" component,
// recording the remote endpoint as the resource.
func NetworkError(operation, endpoint string, cause error) error {
	return FailedToWithDetails(operation, "network", endpoint, cause)
}

// ValidationError reports a field-level validation failure.
func ValidationError(field, reason string) error {
	return fmt.Errorf("validation failed for field %s: %s", field, reason)
}

// ConfigurationError reports a configuration-level validation failure.
func ConfigurationError(setting, reason string) error {
	return fmt.Errorf("configuration error for setting %s: %s", setting, reason)
}

// TimeoutError reports that an operation exceeded its allotted duration.
func TimeoutError(operation, duration string) error {
	return fmt.Errorf("timeout while %s after %s", operation, duration)
}

// AuthenticationError reports an authentication failure against an
// upstream dependency (LLM provider, backend Lambda).
func AuthenticationError(reason string) error {
	return fmt.Errorf("authentication failed: %s", reason)
}

// AuthorizationError reports an authorization failure for an action on a
// resource.
func AuthorizationError(action, resource string) error {
	return fmt.Errorf("authorization failed: insufficient permissions to %s %s", action, resource)
}

// ParseError reports a parse failure for a named input in a given format.
func ParseError(input, format string, cause error) error {
	return FailedToWithDetails(fmt.Sprintf("parse %s as %s", input, format), "parser", "", cause)
}

var retryableSubstrings = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"unavailable",
	"temporary",
	"deadline exceeded",
	"eof",
	"broken pipe",
	"i/o timeout",
	"too many requests",
}

// IsRetryable applies a conservative, message-substring based heuristic to
// classify an error as worth retrying. Callers that have a structured
// error type (BackendError) should prefer checking that type's
// own Retryable() method; this helper exists for errors coming from
// third-party clients that only hand back an opaque error string.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Chain combines zero or more errors (nils are skipped) into one error.
// A single non-nil error is returned unwrapped; two or more are joined
// into a "multiple errors: ..." message.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		parts := make([]string, len(nonNil))
		for i, e := range nonNil {
			parts[i] = e.Error()
		}
		return fmt.Errorf("multiple errors: %s", strings.Join(parts, "; "))
	}
}
