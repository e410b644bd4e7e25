package bonus

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrIneligible   = errors.New("not eligible")
	ErrInvalidState = errors.New("invalid bonus state")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IneligibleError carries the reason shown to the player.
type IneligibleError struct {
	PlanID string
	Reason string
}

func (e *IneligibleError) Error() string {
	if e.PlanID == "" {
		return "not eligible: " + e.Reason
	}
	return fmt.Sprintf("not eligible for plan %s: %s", e.PlanID, e.Reason)
}

func (e *IneligibleError) Is(target error) bool { return target == ErrIneligible }

type InvalidStateError struct {
	InstanceID string
	From       Status
	To         Status
	Message    string
}

func (e *InvalidStateError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bonus %s: %s", e.InstanceID, e.Message)
	}
	return fmt.Sprintf("bonus %s: cannot move from %s to %s", e.InstanceID, e.From, e.To)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func notFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}
