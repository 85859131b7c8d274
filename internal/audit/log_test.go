package audit

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLog(t *testing.T, rotateBytes int64) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	return NewLog(path, rotateBytes, testLogger()), path
}

func record(t *testing.T, action, entityID string) *domain.AuditRecord {
	t.Helper()
	rec, err := domain.NewAuditRecord("tester", action, "task", entityID)
	require.NoError(t, err)
	return rec
}

func TestLogAppendAndRead(t *testing.T) {
	log, _ := newTestLog(t, 0)

	require.NoError(t, log.Append(record(t, "task.create", "a")))
	require.NoError(t, log.Append(record(t, "task.update", "a")))
	require.NoError(t, log.Append(record(t, "task.complete", "a")))

	records, err := log.Read(0, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first.
	assert.Equal(t, "task.complete", records[0].Action)
	assert.Equal(t, "task.update", records[1].Action)
	assert.Equal(t, "task.create", records[2].Action)
}

func TestLogReadWindow(t *testing.T) {
	log, _ := newTestLog(t, 0)

	for _, action := range []string{"one", "two", "three", "four"} {
		require.NoError(t, log.Append(record(t, action, "a")))
	}

	records, err := log.Read(2, 1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "three", records[0].Action)
	assert.Equal(t, "two", records[1].Action)

	records, err = log.Read(10, 100)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLogReadMissingFile(t *testing.T) {
	log, _ := newTestLog(t, 0)

	records, err := log.Read(0, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLogAppendRejectsInvalidRecord(t *testing.T) {
	log, path := newTestLog(t, 0)

	err := log.Append(&domain.AuditRecord{EntityType: "task", EntityID: "a"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "rejected record must not touch the file")
}

func TestLogRotation(t *testing.T) {
	log, path := newTestLog(t, 64)
	log.clock = func() time.Time {
		return time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	}

	// Each record is well over 64 bytes, so the second append rotates.
	require.NoError(t, log.Append(record(t, "task.create", "a")))
	require.NoError(t, log.Append(record(t, "task.update", "a")))

	backups, err := filepath.Glob(path + ".*.bak")
	require.NoError(t, err)
	require.Len(t, backups, 1, "exactly one backup after one rotation")

	// The active file holds only the post-rotation record.
	records, err := log.Read(0, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "task.update", records[0].Action)

	backup, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Contains(t, string(backup), "task.create")
}

func TestVerifyIntegrityCleanLog(t *testing.T) {
	log, _ := newTestLog(t, 0)

	require.NoError(t, log.Append(record(t, "task.create", "a")))
	require.NoError(t, log.Append(record(t, "task.update", "a")))

	report, err := log.VerifyIntegrity()
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, 2, report.TotalLines)
	assert.Equal(t, 2, report.ValidEntries)
	assert.Zero(t, report.InvalidEntries)
}

func TestVerifyIntegrityCountsCorruptedLines(t *testing.T) {
	log, path := newTestLog(t, 0)

	require.NoError(t, log.Append(record(t, "task.create", "a")))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, log.Append(record(t, "task.update", "a")))

	report, err := log.VerifyIntegrity()
	require.NoError(t, err)
	assert.False(t, report.OK)
	assert.Equal(t, 3, report.TotalLines)
	assert.Equal(t, 2, report.ValidEntries)
	assert.Equal(t, 1, report.InvalidEntries)

	// Read skips the corrupted line rather than failing.
	records, err := log.Read(0, 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
