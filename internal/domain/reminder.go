package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reminder-specific validation errors.
var (
	// ErrReminderTaskIDEmpty is returned when a reminder has no task reference.
	ErrReminderTaskIDEmpty = fmt.Errorf("%w: reminder task ID cannot be empty", ErrValidation)

	// ErrReminderUserIDEmpty is returned when a reminder has no user.
	ErrReminderUserIDEmpty = fmt.Errorf("%w: reminder user ID cannot be empty", ErrValidation)

	// ErrReminderTimeZero is returned when a reminder has no delivery time.
	ErrReminderTimeZero = fmt.Errorf("%w: reminder time cannot be zero", ErrValidation)
)

// Reminder schedules a one-shot notification for a task at a point in time.
type Reminder struct {
	ID            uuid.UUID `json:"id"`
	TaskID        uuid.UUID `json:"taskId"`
	UserID        string    `json:"userId"`
	Message       string    `json:"message,omitempty"`
	RemindAt      time.Time `json:"remindAt"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewReminder creates a validated Reminder with a fresh ID.
func NewReminder(taskID uuid.UUID, userID string, remindAt time.Time) (*Reminder, error) {
	rem := &Reminder{
		ID:        uuid.New(),
		TaskID:    taskID,
		UserID:    userID,
		RemindAt:  remindAt,
		CreatedAt: time.Now().UTC(),
	}

	if err := rem.Validate(); err != nil {
		return nil, err
	}

	return rem, nil
}

// Validate checks if the reminder has valid data.
func (r *Reminder) Validate() error {
	if r.TaskID == uuid.Nil {
		return ErrReminderTaskIDEmpty
	}
	if r.UserID == "" {
		return ErrReminderUserIDEmpty
	}
	if r.RemindAt.IsZero() {
		return ErrReminderTimeZero
	}
	return nil
}
