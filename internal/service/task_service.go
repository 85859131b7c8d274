package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/events"
	"github.com/taskmesh/taskmesh/internal/idempotency"
	"github.com/taskmesh/taskmesh/internal/store"
)

// TaskService owns task occurrence state. It consumes the task CRUD events,
// gated by the processing tracker and the idempotency ledger so redelivered
// events never duplicate side effects.
type TaskService struct {
	ledger  *idempotency.Ledger
	tracker *idempotency.Tracker
	records store.RecordStore
	bus     events.Publisher
	logger  *slog.Logger
}

// NewTaskService creates a TaskService.
func NewTaskService(
	ledger *idempotency.Ledger,
	tracker *idempotency.Tracker,
	records store.RecordStore,
	bus events.Publisher,
	logger *slog.Logger,
) *TaskService {
	return &TaskService{
		ledger:  ledger,
		tracker: tracker,
		records: records,
		bus:     bus,
		logger:  logger.With("component", "task_service"),
	}
}

// Register subscribes the service to the tasks topic.
func (s *TaskService) Register(sub events.Subscriber) {
	sub.Subscribe(events.TopicTasks, s)
}

// HandleEvent dispatches one inbound task event.
func (s *TaskService) HandleEvent(ctx context.Context, env *events.Envelope) error {
	switch env.EventType {
	case events.TypeTaskCreated:
		return s.handleMutation(ctx, env, "create")
	case events.TypeTaskUpdated:
		return s.handleMutation(ctx, env, "update")
	case events.TypeTaskCompleted:
		return s.handleMutation(ctx, env, "complete")
	case events.TypeTaskDeleted:
		return s.handleDeleted(ctx, env)
	default:
		// Another subscriber's event type on a shared topic.
		return nil
	}
}

// handleMutation applies a create/update/complete event to the stored
// occurrence. The tracker blocks concurrent duplicates; the ledger absorbs
// redeliveries.
func (s *TaskService) handleMutation(ctx context.Context, env *events.Envelope, op string) error {
	var payload TaskEventPayload
	if err := env.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	occ := payload.Occurrence
	if err := occ.Validate(); err != nil {
		// Validation failures are returned to the caller, never retried and
		// never published.
		return err
	}

	entityID := occ.ID.String()

	begin, err := s.tracker.TryBegin(ctx, "task", entityID, op, nil)
	if err != nil {
		return err
	}
	if !begin.Started {
		s.logger.Debug("task operation already in progress or settled",
			"task_id", entityID,
			"operation", op,
			"existing_state", begin.Existing.State)
		return nil
	}

	key := idempotency.RecordKey("task", entityID, op, payload.Actor)
	_, err = s.ledger.RunIdempotent(ctx, key, func(ctx context.Context) ([]byte, error) {
		before, _ := s.loadOccurrence(ctx, entityID)

		if op == "complete" {
			occ.Status = domain.OccurrenceStatusCompleted
		}
		if err := s.saveOccurrence(ctx, &occ); err != nil {
			return nil, err
		}

		rec, auditErr := domain.NewAuditRecord(payload.Actor, "task."+op, "task", entityID)
		if auditErr == nil {
			if before != nil {
				rec.Before = snapshot(before)
			}
			rec.After = snapshot(occ)
			rec.Source = "task-service"
			publishAudit(ctx, s.bus, s.logger, rec, env.CorrelationID)
		}

		return snapshot(occ), nil
	})
	if err != nil {
		if failErr := s.tracker.Fail(ctx, "task", entityID, op, err); failErr != nil {
			s.logger.Error("failed to record failed state", "error", failErr)
		}
		return err
	}

	if err := s.tracker.Complete(ctx, "task", entityID, op, nil); err != nil {
		s.logger.Error("failed to record completed state", "error", err)
	}

	s.logger.Info("task event processed",
		"task_id", entityID,
		"operation", op,
		"correlation_id", env.CorrelationID)
	return nil
}

func (s *TaskService) handleDeleted(ctx context.Context, env *events.Envelope) error {
	var payload TaskEventPayload
	if err := env.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	entityID := payload.Occurrence.ID.String()
	key := idempotency.RecordKey("task", entityID, "delete", payload.Actor)

	_, err := s.ledger.RunIdempotent(ctx, key, func(ctx context.Context) ([]byte, error) {
		before, _ := s.loadOccurrence(ctx, entityID)
		if err := s.records.Delete(ctx, taskKeyPrefix+entityID); err != nil {
			return nil, err
		}

		rec, auditErr := domain.NewAuditRecord(payload.Actor, "task.delete", "task", entityID)
		if auditErr == nil {
			if before != nil {
				rec.Before = snapshot(before)
			}
			rec.Source = "task-service"
			publishAudit(ctx, s.bus, s.logger, rec, env.CorrelationID)
		}

		return nil, nil
	})
	return err
}

// GetOccurrence returns the stored occurrence, or store.ErrNotFound.
func (s *TaskService) GetOccurrence(ctx context.Context, id string) (*domain.TaskOccurrence, error) {
	return s.loadOccurrence(ctx, id)
}

func (s *TaskService) loadOccurrence(ctx context.Context, id string) (*domain.TaskOccurrence, error) {
	rec, err := s.records.Get(ctx, taskKeyPrefix+id)
	if err != nil {
		return nil, err
	}

	var occ domain.TaskOccurrence
	if err := json.Unmarshal(rec.Value, &occ); err != nil {
		return nil, fmt.Errorf("failed to decode stored occurrence: %w", err)
	}
	return &occ, nil
}

func (s *TaskService) saveOccurrence(ctx context.Context, occ *domain.TaskOccurrence) error {
	value, err := json.Marshal(occ)
	if err != nil {
		return fmt.Errorf("failed to encode occurrence: %w", err)
	}
	return s.records.Set(ctx, taskKeyPrefix+occ.ID.String(), store.Record{
		Value:     value,
		State:     string(occ.Status),
		Timestamp: occ.UpdatedAt,
	})
}

var _ events.Handler = (*TaskService)(nil)
