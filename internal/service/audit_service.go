package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/taskmesh/taskmesh/internal/audit"
	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/events"
	"github.com/taskmesh/taskmesh/internal/idempotency"
)

// AuditService appends AuditEntryCreated events to the append-only log.
// Appends are ledger-gated: a redelivered audit event must not produce a
// duplicate line.
type AuditService struct {
	log    *audit.Log
	ledger *idempotency.Ledger
	logger *slog.Logger
}

// NewAuditService creates an AuditService.
func NewAuditService(log *audit.Log, ledger *idempotency.Ledger, logger *slog.Logger) *AuditService {
	return &AuditService{
		log:    log,
		ledger: ledger,
		logger: logger.With("component", "audit_service"),
	}
}

// Register subscribes the service to the audit topic.
func (s *AuditService) Register(sub events.Subscriber) {
	sub.Subscribe(events.TopicAudit, s)
}

// HandleEvent appends one audit record.
func (s *AuditService) HandleEvent(ctx context.Context, env *events.Envelope) error {
	if env.EventType != events.TypeAuditEntryCreated {
		return nil
	}

	var rec domain.AuditRecord
	if err := env.UnmarshalPayload(&rec); err != nil {
		return fmt.Errorf("failed to unmarshal audit record: %w", err)
	}

	// The envelope carries no unique ID, so the dedup key is composed from
	// the record's identifying fields.
	key := idempotency.RecordKey(
		"audit",
		rec.EntityType+":"+rec.EntityID,
		rec.Action+":"+strconv.FormatInt(rec.Timestamp.UnixNano(), 10),
		rec.CorrelationID,
	)

	_, err := s.ledger.RunIdempotent(ctx, key, func(ctx context.Context) ([]byte, error) {
		if err := s.log.Append(&rec); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

var _ events.Handler = (*AuditService)(nil)
