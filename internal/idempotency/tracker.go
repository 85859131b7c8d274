package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskmesh/taskmesh/internal/store"
)

// trackerPrefix namespaces tracker records within the shared record store.
const trackerPrefix = "proc:"

// Processing states tracked per (entityType, entityID, operationType).
const (
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// ProcessingState is the stored state for an in-flight or finished operation.
type ProcessingState struct {
	State     string
	Context   []byte
	Timestamp time.Time
}

// Begin is the outcome of TryBegin. Started=false means an unexpired entry
// already exists for the key; Existing carries its state.
type Begin struct {
	Started  bool
	Existing *ProcessingState
}

// Tracker marks (entity, operation) tuples as in-flight, completed or failed
// to prevent concurrent duplicate work. Unlike the ledger, which replays
// results, the tracker is a pure re-entrancy guard: any unexpired entry
// blocks a new begin regardless of its state.
type Tracker struct {
	store  store.RecordStore
	ttl    time.Duration
	keys   *keyLock
	clock  func() time.Time
	logger *slog.Logger
}

// NewTracker creates a Tracker over the given record store. A non-positive
// ttl falls back to DefaultTTL.
func NewTracker(recordStore store.RecordStore, ttl time.Duration, logger *slog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		store:  recordStore,
		ttl:    ttl,
		keys:   newKeyLock(),
		clock:  time.Now,
		logger: logger.With("component", "processing_state_tracker"),
	}
}

// TryBegin attempts to claim the (entityType, entityID, operationType) tuple.
// The claim and the existence check run under a per-key lock, so exactly one
// concurrent caller wins.
func (t *Tracker) TryBegin(
	ctx context.Context,
	entityType, entityID, operationType string,
	contextBlob []byte,
) (Begin, error) {
	key := RecordKey(entityType, entityID, operationType, "")

	unlock := t.keys.Lock(key)
	defer unlock()

	now := t.clock()

	rec, err := t.store.Get(ctx, trackerPrefix+key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Begin{}, fmt.Errorf("failed to check processing state: %w", err)
	}
	if err == nil && !rec.Expired(now) {
		return Begin{
			Started: false,
			Existing: &ProcessingState{
				State:     rec.State,
				Context:   rec.Value,
				Timestamp: rec.Timestamp,
			},
		}, nil
	}

	err = t.store.Set(ctx, trackerPrefix+key, store.Record{
		Value:     contextBlob,
		State:     StateProcessing,
		Timestamp: now,
		ExpiresAt: now.Add(t.ttl),
	})
	if err != nil {
		return Begin{}, fmt.Errorf("failed to begin processing: %w", err)
	}

	return Begin{Started: true}, nil
}

// Complete transitions the tuple's state to completed and refreshes its
// timestamp.
func (t *Tracker) Complete(ctx context.Context, entityType, entityID, operationType string, result []byte) error {
	return t.transition(ctx, entityType, entityID, operationType, StateCompleted, result)
}

// Fail transitions the tuple's state to failed and refreshes its timestamp.
func (t *Tracker) Fail(ctx context.Context, entityType, entityID, operationType string, cause error) error {
	var blob []byte
	if cause != nil {
		blob = []byte(cause.Error())
	}
	return t.transition(ctx, entityType, entityID, operationType, StateFailed, blob)
}

func (t *Tracker) transition(
	ctx context.Context,
	entityType, entityID, operationType, state string,
	blob []byte,
) error {
	key := RecordKey(entityType, entityID, operationType, "")

	unlock := t.keys.Lock(key)
	defer unlock()

	now := t.clock()
	err := t.store.Set(ctx, trackerPrefix+key, store.Record{
		Value:     blob,
		State:     state,
		Timestamp: now,
		ExpiresAt: now.Add(t.ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to transition processing state: %w", err)
	}

	t.logger.Debug("processing state transitioned",
		"entity_type", entityType,
		"entity_id", entityID,
		"operation", operationType,
		"state", state)
	return nil
}
