package services

import (
	"errors"
	"fmt"
)

// ErrReplayNoop marks a webhook delivery that refers to an already-applied or unknown
// correlation id. It is not a failure: the delivery is acknowledged and nothing changes.
var ErrReplayNoop = errors.New("webhook event already applied or unknown")

// ErrEmailExists is returned when an attempt is made to use an email that already exists.
var ErrEmailExists = errors.New("email already in use by another account")

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// AuthorizationError reports a caller with the wrong role or without ownership.
type AuthorizationError struct {
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

func forbidden(action string) *AuthorizationError {
	return &AuthorizationError{Action: action}
}

// NotFoundError reports a missing (or invisible) entity.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Entity)
}

func notFound(entity string) *NotFoundError {
	return &NotFoundError{Entity: entity}
}

// PreconditionError reports an entity in the wrong state for the requested transition.
type PreconditionError struct {
	Entity   string
	Current  string
	Required string
}

func (e *PreconditionError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("%s: %s", e.Entity, e.Required)
	}
	return fmt.Sprintf("%s is %s, requires %s", e.Entity, e.Current, e.Required)
}

func precondition(entity, current, required string) *PreconditionError {
	return &PreconditionError{Entity: entity, Current: current, Required: required}
}

// GatewayError wraps a failed payment gateway call.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// WebhookError rejects a webhook delivery (bad signature or payload) without touching state.
type WebhookError struct {
	Reason string
	Err    error
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook rejected: %s: %v", e.Reason, e.Err)
}

func (e *WebhookError) Unwrap() error {
	return e.Err
}
