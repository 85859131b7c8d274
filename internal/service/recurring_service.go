package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/domain/recur"
	"github.com/taskmesh/taskmesh/internal/events"
	"github.com/taskmesh/taskmesh/internal/idempotency"
	"github.com/taskmesh/taskmesh/internal/store"
)

// RecurringTaskService derives the next occurrence when a recurring task is
// completed and owns the recurrence rules. Generation is idempotent per
// completed occurrence: redelivered completion events replay the recorded
// successor instead of spawning another one.
type RecurringTaskService struct {
	engine  *recur.Engine
	ledger  *idempotency.Ledger
	records store.RecordStore
	bus     events.Publisher
	logger  *slog.Logger
}

// NewRecurringTaskService creates a RecurringTaskService.
func NewRecurringTaskService(
	engine *recur.Engine,
	ledger *idempotency.Ledger,
	records store.RecordStore,
	bus events.Publisher,
	logger *slog.Logger,
) *RecurringTaskService {
	return &RecurringTaskService{
		engine:  engine,
		ledger:  ledger,
		records: records,
		bus:     bus,
		logger:  logger.With("component", "recurring_task_service"),
	}
}

// Register subscribes the service to the tasks topic (for completions) and
// the recurring topic (for rule lifecycle events).
func (s *RecurringTaskService) Register(sub events.Subscriber) {
	sub.Subscribe(events.TopicTasks, s)
	sub.Subscribe(events.TopicRecurring, s)
}

// HandleEvent dispatches one inbound event.
func (s *RecurringTaskService) HandleEvent(ctx context.Context, env *events.Envelope) error {
	switch env.EventType {
	case events.TypeTaskCompleted:
		return s.handleCompleted(ctx, env)
	case events.TypeRecurringTaskRuleCreated, events.TypeRecurringTaskRuleUpdated:
		return s.handleRuleUpsert(ctx, env)
	case events.TypeRecurringTaskRuleDeleted:
		return s.handleRuleDeleted(ctx, env)
	default:
		return nil
	}
}

// handleCompleted generates the successor occurrence unless the rule has
// ended. Failures here are per-entity: they surface as a
// RecurringTaskProcessingError event and never stop other tasks.
func (s *RecurringTaskService) handleCompleted(ctx context.Context, env *events.Envelope) error {
	var payload TaskEventPayload
	if err := env.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	occ := payload.Occurrence
	if occ.RuleID == uuid.Nil {
		// Not a recurring task.
		return nil
	}

	key := idempotency.RecordKey("recurring_task", occ.ID.String(), "generate_next", "")
	result, err := s.ledger.RunIdempotent(ctx, key, func(ctx context.Context) ([]byte, error) {
		return s.generateNext(ctx, &occ, env.CorrelationID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return err
		}
		s.publishProcessingError(ctx, &occ, "generate_next", err, env.CorrelationID)
		return err
	}

	if result == nil {
		s.logger.Info("rule ended, no successor generated",
			"rule_id", occ.RuleID,
			"occurrence_id", occ.ID,
			"correlation_id", env.CorrelationID)
	}
	return nil
}

// generateNext runs inside the ledger so its side effects happen at most
// once per completed occurrence. A nil result records "rule ended".
func (s *RecurringTaskService) generateNext(
	ctx context.Context,
	occ *domain.TaskOccurrence,
	correlationID string,
) ([]byte, error) {
	rule, err := s.loadRule(ctx, occ.RuleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("completed occurrence references unknown rule",
				"rule_id", occ.RuleID,
				"occurrence_id", occ.ID)
			return nil, nil
		}
		return nil, err
	}
	if !rule.IsActive {
		return nil, nil
	}

	count, err := s.occurrenceCount(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	count++ // the completion being processed

	if s.engine.HasEnded(rule, occ.DueDate, count) {
		if err := s.saveOccurrenceCount(ctx, rule.ID, count); err != nil {
			return nil, err
		}
		return nil, nil
	}

	nextDate, ok := s.engine.NextOccurrence(rule, occ.DueDate)
	if !ok {
		if err := s.saveOccurrenceCount(ctx, rule.ID, count); err != nil {
			return nil, err
		}
		return nil, nil
	}

	next := occ.NextFrom(nextDate)

	value, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to encode successor occurrence: %w", err)
	}
	err = s.records.Set(ctx, taskKeyPrefix+next.ID.String(), store.Record{
		Value:     value,
		State:     string(next.Status),
		Timestamp: next.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	if err := s.saveOccurrenceCount(ctx, rule.ID, count); err != nil {
		return nil, err
	}

	// State is committed; publish only now.
	genEnv, err := events.NewEnvelope(events.TypeRecurringTaskGenerated, GeneratedPayload{
		RuleID:     rule.ID,
		PreviousID: occ.ID,
		Next:       *next,
	}, correlationID)
	if err != nil {
		return nil, err
	}
	if err := s.bus.Publish(ctx, events.TopicRecurring, genEnv); err != nil {
		s.logger.Error("failed to publish generated event",
			"error", err,
			"rule_id", rule.ID,
			"next_id", next.ID)
	}

	rec, auditErr := domain.NewAuditRecord("", "recurring_task.generate", "task", next.ID.String())
	if auditErr == nil {
		rec.After = snapshot(next)
		rec.Source = "recurring-task-service"
		publishAudit(ctx, s.bus, s.logger, rec, correlationID)
	}

	s.logger.Info("generated successor occurrence",
		"rule_id", rule.ID,
		"previous_id", occ.ID,
		"next_id", next.ID,
		"due_date", next.DueDate,
		"occurrence_count", count)

	return value, nil
}

// handleRuleUpsert validates and stores a rule. Unbounded rules are
// accepted but logged; the engine's iteration cap bounds their expansion.
func (s *RecurringTaskService) handleRuleUpsert(ctx context.Context, env *events.Envelope) error {
	var payload RuleEventPayload
	if err := env.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal rule payload: %w", err)
	}

	rule := payload.Rule
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Unbounded() {
		s.logger.Warn("rule has no termination condition, expansion will be capped",
			"rule_id", rule.ID)
	}

	op := "create"
	if env.EventType == events.TypeRecurringTaskRuleUpdated {
		op = "update"
	}

	key := idempotency.RecordKey("recurrence_rule", rule.ID.String(), op, payload.Actor)
	_, err := s.ledger.RunIdempotent(ctx, key, func(ctx context.Context) ([]byte, error) {
		before, _ := s.loadRule(ctx, rule.ID)

		value, err := json.Marshal(rule)
		if err != nil {
			return nil, fmt.Errorf("failed to encode rule: %w", err)
		}
		err = s.records.Set(ctx, ruleKeyPrefix+rule.ID.String(), store.Record{
			Value:     value,
			Timestamp: rule.UpdatedAt,
		})
		if err != nil {
			return nil, err
		}

		rec, auditErr := domain.NewAuditRecord(
			payload.Actor, "recurrence_rule."+op, "recurrence_rule", rule.ID.String())
		if auditErr == nil {
			if before != nil {
				rec.Before = snapshot(before)
			}
			rec.After = snapshot(rule)
			rec.Source = "recurring-task-service"
			publishAudit(ctx, s.bus, s.logger, rec, env.CorrelationID)
		}

		return value, nil
	})
	return err
}

func (s *RecurringTaskService) handleRuleDeleted(ctx context.Context, env *events.Envelope) error {
	var payload RuleEventPayload
	if err := env.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal rule payload: %w", err)
	}

	ruleID := payload.Rule.ID
	key := idempotency.RecordKey("recurrence_rule", ruleID.String(), "delete", payload.Actor)

	_, err := s.ledger.RunIdempotent(ctx, key, func(ctx context.Context) ([]byte, error) {
		before, _ := s.loadRule(ctx, ruleID)
		if err := s.records.Delete(ctx, ruleKeyPrefix+ruleID.String()); err != nil {
			return nil, err
		}

		rec, auditErr := domain.NewAuditRecord(
			payload.Actor, "recurrence_rule.delete", "recurrence_rule", ruleID.String())
		if auditErr == nil {
			if before != nil {
				rec.Before = snapshot(before)
			}
			rec.Source = "recurring-task-service"
			publishAudit(ctx, s.bus, s.logger, rec, env.CorrelationID)
		}

		return nil, nil
	})
	return err
}

// publishProcessingError surfaces an exhausted failure so downstream and
// audit consumers see it. Failures are per-entity, never global.
func (s *RecurringTaskService) publishProcessingError(
	ctx context.Context,
	occ *domain.TaskOccurrence,
	operation string,
	cause error,
	correlationID string,
) {
	env, err := events.NewEnvelope(events.TypeRecurringTaskProcessingError, ProcessingErrorPayload{
		EntityType: "task",
		EntityID:   occ.ID.String(),
		Operation:  operation,
		Error:      cause.Error(),
	}, correlationID)
	if err != nil {
		s.logger.Error("failed to build processing error event", "error", err)
		return
	}
	if err := s.bus.Publish(ctx, events.TopicRecurring, env); err != nil {
		s.logger.Error("failed to publish processing error event", "error", err)
	}
}

func (s *RecurringTaskService) loadRule(ctx context.Context, id uuid.UUID) (*domain.RecurrenceRule, error) {
	rec, err := s.records.Get(ctx, ruleKeyPrefix+id.String())
	if err != nil {
		return nil, err
	}

	var rule domain.RecurrenceRule
	if err := json.Unmarshal(rec.Value, &rule); err != nil {
		return nil, fmt.Errorf("failed to decode stored rule: %w", err)
	}
	return &rule, nil
}

func (s *RecurringTaskService) occurrenceCount(ctx context.Context, ruleID uuid.UUID) (int, error) {
	rec, err := s.records.Get(ctx, ruleCountKeyPrefix+ruleID.String())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	count, err := strconv.Atoi(string(rec.Value))
	if err != nil {
		return 0, fmt.Errorf("failed to decode occurrence count: %w", err)
	}
	return count, nil
}

func (s *RecurringTaskService) saveOccurrenceCount(ctx context.Context, ruleID uuid.UUID, count int) error {
	return s.records.Set(ctx, ruleCountKeyPrefix+ruleID.String(), store.Record{
		Value: []byte(strconv.Itoa(count)),
	})
}

var _ events.Handler = (*RecurringTaskService)(nil)
