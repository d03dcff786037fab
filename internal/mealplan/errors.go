package mealplan

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("meal plan not found")
	ErrForbidden           = errors.New("forbidden")
	ErrAlreadyProcessing   = errors.New("meal plan is being processed")
	ErrArtifactUnavailable = errors.New("meal plan document not available")
)

// Field names used in ValidationError.
const (
	FieldStartDate  = "start_date"
	FieldRegenerate = "regenerate"
	FieldStatus     = "status"
	FieldRateLimit  = "rate_limit"
)

// User-facing messages.
const (
	MsgStartDateRequired  = "The start date field is required."
	MsgStartDateInvalid   = "The start date field must be a valid date."
	MsgStartDatePast      = "The start date field must be a date after or equal to today."
	MsgStartDateTaken     = "You already have a meal plan for this start date."
	MsgRegenerateRequired = "The regenerate field must be accepted."
	MsgProcessing         = "Cannot regenerate meal plan while it is being processed."
	MsgNotFinished        = "Can only regenerate completed or failed meal plans."
)

// ValidationError is an admission failure tied to one request field.
// RetryAfter is set for rate_limit failures.
type ValidationError struct {
	Field      string
	Message    string
	RetryAfter int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func generateThrottled(seconds int) *ValidationError {
	return &ValidationError{
		Field:      FieldRateLimit,
		Message:    fmt.Sprintf("Too many meal plan generation attempts. Try again in %d seconds.", seconds),
		RetryAfter: seconds,
	}
}

func regenerateThrottled(seconds int) *ValidationError {
	return &ValidationError{
		Field:      FieldRateLimit,
		Message:    fmt.Sprintf("Too many regeneration attempts. Try again in %d seconds or use force flag.", seconds),
		RetryAfter: seconds,
	}
}
