// Package errors provides the error types shared across the backplane's
// components. Every subsystem wraps underlying causes in an
// *OperationError rather than ad hoc fmt.Errorf chains, so callers can
// consistently extract Operation/Component/Resource context.
package errors

import (
	"fmt"
	"strings"
)

// OperationError describes a failed operation, optionally scoped to a
// component and resource, wrapping an underlying cause.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString("failed to ")
	b.WriteString(e.Operation)
	if e.Component != "" {
		b.WriteString(", component: ")
		b.WriteString(e.Component)
	}
	if e.Resource != "" {
		b.WriteString(", resource: ")
		b.WriteString(e.Resource)
	}
	if e.Cause != nil {
		b.WriteString(", cause: ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo builds the common "failed to <action>[: <cause>]" error.
func FailedTo(action string, cause error) error {
	if cause == nil {
		return &OperationError{Operation: action}
	}
	return fmt.Errorf("failed to %s: %w", action, cause)
}

// FailedToWithDetails builds a fully-qualified OperationError.
func FailedToWithDetails(action, component, resource string, cause error) error {
	return &OperationError{Operation: action, Component: component, Resource: resource, Cause: cause}
}

// Wrapf adds formatted context ahead of an existing error. A nil err
// returns nil, matching errors.Wrap semantics elsewhere in the stack.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, err)
}

// DatabaseError scopes an operation error to the "database" component.
func DatabaseError(operation string, cause error) error {
	return &OperationError{Operation: operation, Component: "database", Cause: cause}
}

// NetworkError scopes an operation error to the "network" component,
// naming the endpoint as the resource.
func NetworkError(operation, endpoint string, cause error) error {
	return &OperationError{Operation: operation, Component: "network", Resource: endpoint, Cause: cause}
}

// ValidationError reports a field-level validation failure.
func ValidationError(field, reason string) error {
	return fmt.Errorf("validation failed for field %s: %s", field, reason)
}

// ConfigurationError reports a bad configuration setting.
func ConfigurationError(setting, reason string) error {
	return fmt.Errorf("configuration error for setting %s: %s", setting, reason)
}

// TimeoutError reports an operation that exceeded its deadline.
func TimeoutError(operation, duration string) error {
	return fmt.Errorf("timeout while %s after %s", operation, duration)
}

// AuthenticationError reports a failed authentication attempt.
func AuthenticationError(reason string) error {
	return fmt.Errorf("authentication failed: %s", reason)
}

// AuthorizationError reports insufficient permissions for an action.
func AuthorizationError(action, resource string) error {
	return fmt.Errorf("authorization failed: insufficient permissions to %s %s", action, resource)
}

// ParseError reports a failure parsing a resource as a given format.
func ParseError(resource, format string, cause error) error {
	return &OperationError{Operation: fmt.Sprintf("parse %s as %s", resource, format), Cause: cause}
}

// retryableSubstrings are matched case-sensitively against Error() text;
// this mirrors how transient infra errors read across the stack (Postgres
// driver errors, Redis timeouts, HTTP transport errors).
var retryableSubstrings = []string{
	"timeout",
	"connection refused",
	"service unavailable",
	"temporarily unavailable",
	"too many connections",
	"i/o timeout",
}

// IsRetryable reports whether err looks like a transient failure worth
// retrying (at the queue-redelivery layer, not via an internal backoff).
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

// Chain joins non-nil errors into one, skipping nils. Returns nil if
// every input is nil, the lone error unwrapped if only one is non-nil.
func Chain(errs ...error) error {
	var nonNil []string
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e.Error())
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s", nonNil[0])
	default:
		return fmt.Errorf("multiple errors: %s", strings.Join(nonNil, "; "))
	}
}
