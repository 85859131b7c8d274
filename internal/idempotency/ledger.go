// Package idempotency provides the operation ledger and processing state
// tracker that make at-least-once event delivery safe: the ledger replays
// recorded results instead of re-executing side effects, and the tracker
// guards against concurrent duplicate work on the same entity.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taskmesh/taskmesh/internal/store"
)

// DefaultTTL bounds how long recorded results are kept before sweeping.
const DefaultTTL = 24 * time.Hour

// ledgerPrefix namespaces ledger records within the shared record store.
const ledgerPrefix = "idem:"

// RecordKey composes the deterministic idempotency key for an operation.
// The actor is optional and omitted when empty.
func RecordKey(entityType, entityID, operationType, actor string) string {
	parts := []string{entityType, entityID, operationType}
	if actor != "" {
		parts = append(parts, actor)
	}
	return strings.Join(parts, ":")
}

// Check reports whether an operation was already performed and, if so, the
// result recorded for it.
type Check struct {
	Processed bool
	Result    []byte
	Timestamp time.Time
}

// Ledger records operation results under idempotency keys. The first
// recorded result for a key is authoritative and is returned verbatim on
// replay; side effects are never re-executed for a known key.
//
// Atomicity holds per key within a single process. Cross-process
// exactly-once additionally requires a shared transactional backend or a
// naturally idempotent operation.
type Ledger struct {
	store  store.RecordStore
	ttl    time.Duration
	keys   *keyLock
	clock  func() time.Time
	logger *slog.Logger
}

// NewLedger creates a Ledger over the given record store. A non-positive ttl
// falls back to DefaultTTL.
func NewLedger(recordStore store.RecordStore, ttl time.Duration, logger *slog.Logger) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{
		store:  recordStore,
		ttl:    ttl,
		keys:   newKeyLock(),
		clock:  time.Now,
		logger: logger.With("component", "idempotency_ledger"),
	}
}

// CheckProcessed reports whether the operation under key was already
// performed. Expired entries count as not processed.
func (l *Ledger) CheckProcessed(ctx context.Context, key string) (Check, error) {
	rec, err := l.store.Get(ctx, ledgerPrefix+key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Check{}, nil
		}
		return Check{}, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	if rec.Expired(l.clock()) {
		return Check{}, nil
	}

	return Check{Processed: true, Result: rec.Value, Timestamp: rec.Timestamp}, nil
}

// MarkProcessed records the result for key with the ledger's TTL.
func (l *Ledger) MarkProcessed(ctx context.Context, key string, result []byte) error {
	now := l.clock()
	err := l.store.Set(ctx, ledgerPrefix+key, store.Record{
		Value:     result,
		Timestamp: now,
		ExpiresAt: now.Add(l.ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to mark idempotency key: %w", err)
	}
	return nil
}

// RunIdempotent executes op at most once per key. A replayed call returns
// the originally recorded result without invoking op. The check-run-mark
// sequence runs under a per-key lock so two concurrent handlers cannot both
// observe "not yet processed".
func (l *Ledger) RunIdempotent(
	ctx context.Context,
	key string,
	op func(ctx context.Context) ([]byte, error),
) ([]byte, error) {
	unlock := l.keys.Lock(key)
	defer unlock()

	check, err := l.CheckProcessed(ctx, key)
	if err != nil {
		return nil, err
	}
	if check.Processed {
		l.logger.Debug("replaying recorded result",
			"key", key,
			"recorded_at", check.Timestamp)
		return check.Result, nil
	}

	result, err := op(ctx)
	if err != nil {
		return nil, err
	}

	if err := l.MarkProcessed(ctx, key, result); err != nil {
		return nil, err
	}

	return result, nil
}
