// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	// Validation errors are never retried and never published as events.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrRuleEnded is returned when an occurrence is requested from a rule
	// whose termination condition has already been reached.
	ErrRuleEnded = errors.New("recurrence rule has ended")
)
