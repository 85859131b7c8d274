package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Audit-specific validation errors.
var (
	// ErrAuditActionEmpty is returned when an audit record has no action.
	ErrAuditActionEmpty = fmt.Errorf("%w: audit action cannot be empty", ErrValidation)

	// ErrAuditEntityEmpty is returned when an audit record identifies no entity.
	ErrAuditEntityEmpty = fmt.Errorf("%w: audit entity cannot be empty", ErrValidation)
)

// AuditRecord captures one action taken against an entity. Records are
// immutable once written; the audit log is their sole owner.
type AuditRecord struct {
	Actor         string          `json:"actor,omitempty"`
	Action        string          `json:"action"`
	EntityType    string          `json:"entityType"`
	EntityID      string          `json:"entityId"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// NewAuditRecord creates a validated audit record stamped with the current time.
func NewAuditRecord(actor, action, entityType, entityID string) (*AuditRecord, error) {
	rec := &AuditRecord{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Timestamp:  time.Now().UTC(),
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	return rec, nil
}

// Validate checks if the audit record has valid data.
func (a *AuditRecord) Validate() error {
	if a.Action == "" {
		return ErrAuditActionEmpty
	}
	if a.EntityType == "" || a.EntityID == "" {
		return ErrAuditEntityEmpty
	}
	return nil
}
