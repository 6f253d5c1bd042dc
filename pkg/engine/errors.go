package engine

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ValidationError is malformed or missing input, detected before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalidField(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError is a reference to a workflow or child row that does not exist.
type NotFoundError struct {
	Resource string
	ID       uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func notFound(resource string, id uint) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// InvalidTransitionError is a requested state change that conflicts with the
// workflow state machine or the aggregation rule.
type InvalidTransitionError struct {
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return e.Reason
}

func invalidTransition(format string, args ...interface{}) error {
	return &InvalidTransitionError{Reason: fmt.Sprintf(format, args...)}
}

// PermissionError is an actor lacking the capability for the requested call.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return e.Reason
}

// wrapStore translates a raw store error, keeping gorm.ErrRecordNotFound
// mapped to the NotFound taxonomy so callers never see driver detail.
func wrapStore(err error, resource string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(resource, id)
	}
	return fmt.Errorf("store: %w", err)
}
