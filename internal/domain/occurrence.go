package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OccurrenceStatus represents the lifecycle state of a task occurrence.
type OccurrenceStatus string

// Possible occurrence status values.
const (
	OccurrenceStatusPending   OccurrenceStatus = "pending"
	OccurrenceStatusCompleted OccurrenceStatus = "completed"
	OccurrenceStatusCancelled OccurrenceStatus = "cancelled"
)

// Occurrence-specific validation errors.
var (
	// ErrOccurrenceTitleEmpty is returned when an occurrence has no title.
	ErrOccurrenceTitleEmpty = fmt.Errorf("%w: occurrence title cannot be empty", ErrValidation)

	// ErrOccurrenceDueDateZero is returned when an occurrence has no due date.
	ErrOccurrenceDueDateZero = fmt.Errorf("%w: occurrence due date cannot be zero", ErrValidation)

	// ErrOccurrenceInvalidStatus is returned on an unknown status value or an
	// illegal status transition.
	ErrOccurrenceInvalidStatus = fmt.Errorf("%w: invalid occurrence status", ErrValidation)
)

// TaskOccurrence is one concrete instance of recurring work. Completing an
// occurrence spawns the next one (new identity, same rule reference) unless
// the owning rule has ended.
type TaskOccurrence struct {
	ID          uuid.UUID        `json:"id"`
	RuleID      uuid.UUID        `json:"ruleId,omitempty"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	DueDate     time.Time        `json:"dueDate"`
	Priority    int              `json:"priority"`
	Tags        []string         `json:"tags,omitempty"`
	Status      OccurrenceStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// NewTaskOccurrence creates a validated pending occurrence.
func NewTaskOccurrence(ruleID uuid.UUID, title string, dueDate time.Time) (*TaskOccurrence, error) {
	now := time.Now().UTC()
	occ := &TaskOccurrence{
		ID:        uuid.New(),
		RuleID:    ruleID,
		Title:     title,
		DueDate:   dueDate,
		Status:    OccurrenceStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := occ.Validate(); err != nil {
		return nil, err
	}

	return occ, nil
}

// Validate checks if the occurrence has valid data.
func (o *TaskOccurrence) Validate() error {
	if o.Title == "" {
		return ErrOccurrenceTitleEmpty
	}
	if o.DueDate.IsZero() {
		return ErrOccurrenceDueDateZero
	}
	switch o.Status {
	case OccurrenceStatusPending, OccurrenceStatusCompleted, OccurrenceStatusCancelled:
	default:
		return ErrOccurrenceInvalidStatus
	}
	return nil
}

// Complete marks a pending occurrence completed. Completing an occurrence in
// any other state is an invalid transition.
func (o *TaskOccurrence) Complete() error {
	if o.Status != OccurrenceStatusPending {
		return ErrOccurrenceInvalidStatus
	}
	o.Status = OccurrenceStatusCompleted
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel marks a pending occurrence cancelled.
func (o *TaskOccurrence) Cancel() error {
	if o.Status != OccurrenceStatusPending {
		return ErrOccurrenceInvalidStatus
	}
	o.Status = OccurrenceStatusCancelled
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// NextFrom returns the successor occurrence for the same rule: a new identity
// with pending status and the given due date, carrying over title,
// description, priority and tags.
func (o *TaskOccurrence) NextFrom(dueDate time.Time) *TaskOccurrence {
	now := time.Now().UTC()
	return &TaskOccurrence{
		ID:          uuid.New(),
		RuleID:      o.RuleID,
		Title:       o.Title,
		Description: o.Description,
		DueDate:     dueDate,
		Priority:    o.Priority,
		Tags:        append([]string(nil), o.Tags...),
		Status:      OccurrenceStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
