package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/events"
	"github.com/taskmesh/taskmesh/internal/idempotency"
	"github.com/taskmesh/taskmesh/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventRecorder captures every envelope delivered to it.
type eventRecorder struct {
	mu        sync.Mutex
	envelopes []*events.Envelope
}

func (r *eventRecorder) HandleEvent(ctx context.Context, env *events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
	return nil
}

func (r *eventRecorder) ofType(eventType string) []*events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*events.Envelope
	for _, env := range r.envelopes {
		if env.EventType == eventType {
			out = append(out, env)
		}
	}
	return out
}

type testDeps struct {
	records *store.MemoryStore
	bus     *events.Bus
	ledger  *idempotency.Ledger
	tracker *idempotency.Tracker
}

func newTestDeps() testDeps {
	records := store.NewMemoryStore()
	logger := testLogger()
	return testDeps{
		records: records,
		bus:     events.NewBus(logger),
		ledger:  idempotency.NewLedger(records, time.Hour, logger),
		tracker: idempotency.NewTracker(records, time.Hour, logger),
	}
}

func envelope(t *testing.T, eventType string, payload interface{}) *events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(eventType, payload, "corr-test")
	require.NoError(t, err)
	return env
}
