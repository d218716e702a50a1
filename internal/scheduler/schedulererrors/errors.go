// Package schedulererrors defines the error taxonomy the scheduler core uses to classify
// failures from the orchestrator and from scheduler operations: NotFound, Conflict,
// Malformed, Transport, Unsupported, AuthFailed and Internal. Callers use errors.As to
// recover a typed error out of a wrapped chain, the same pattern the teacher's
// armadaerrors package uses for its gRPC-facing error types.
package schedulererrors

import "fmt"

// NotFoundError is returned when the orchestrator responds 404 to a request about a
// resource the caller expected to exist.
type NotFoundError struct {
	Resource string
	Name     string
	Message  string
}

func (e *NotFoundError) Error() string {
	if e.Resource == "" && e.Name == "" {
		return fmt.Sprintf("not found: %s", e.Message)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

// ConflictError is returned when the orchestrator responds 409, typically because a
// test-guarded JSON patch's precondition no longer matched.
type ConflictError struct {
	Resource string
	Name     string
	Message  string
}

func (e *ConflictError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %q conflict", e.Resource, e.Name)
	}
	return fmt.Sprintf("%s %q conflict: %s", e.Resource, e.Name, e.Message)
}

// MalformedError is returned when the orchestrator responds 400 to a request body or
// query this client built.
type MalformedError struct {
	Message string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed request: %s", e.Message)
}

// TransportError wraps a failure to complete an HTTP round trip to the orchestrator
// (connection refused, timeout, stream EOF mid-decode).
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// UnsupportedError describes a request this backend cannot satisfy. No code path
// in this module returns it: create-service-if-new reports an unsupported docker
// cmd-type through its CreateOutcome instead.
type UnsupportedError struct {
	Message string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported: %s", e.Message)
}

// AuthFailedError is returned when the orchestrator rejects our credentials (401 or
// 403). A failed auth-refresh is only logged and does not produce this error.
type AuthFailedError struct {
	Message string
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// OtherError wraps a 4xx/5xx response that doesn't fit the other categories but still
// carries the orchestrator's HTTP status so callers can log or surface it.
type OtherError struct {
	Status  int
	Message string
}

func (e *OtherError) Error() string {
	return fmt.Sprintf("orchestrator returned status %d: %s", e.Status, e.Message)
}

// InternalError wraps an unexpected local failure (marshalling, programmer error) that
// isn't a property of the orchestrator's response.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Message)
}
