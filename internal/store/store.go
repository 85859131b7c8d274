// Package store defines the keyed record port backing the idempotency
// ledger, the processing state tracker and the services' entity state, plus
// its in-memory, sqlite and postgres implementations.
package store

import (
	"context"
	"errors"
	"time"
)

// Common store errors used across all implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrClosed is returned when an operation is attempted on a closed store.
	ErrClosed = errors.New("store is closed")
)

// Record is one keyed entry. Value carries the caller's payload verbatim;
// State is an optional small discriminator (e.g. a processing state); a
// non-zero ExpiresAt makes the record eligible for sweeping.
type Record struct {
	Value     []byte    `json:"value,omitempty"`
	State     string    `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the record's TTL has elapsed at the given time.
// Records without an expiry never expire.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// RecordStore is the storage port: a keyed map with TTL sweeping. A durable
// backend can be substituted without touching any business logic.
type RecordStore interface {
	// Get returns the record stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// Set stores the record under key, replacing any previous record.
	Set(ctx context.Context, key string, rec Record) error

	// Delete removes the record under key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// List returns all records whose key starts with the given prefix.
	List(ctx context.Context, prefix string) (map[string]Record, error)

	// Sweep removes every record whose expiry is at or before now and
	// returns the number removed.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Close releases the store's resources.
	Close() error
}
