// Package audit implements the append-only, size-bounded, rotating audit
// log. The log is the sole writer of its files; records are immutable once
// written.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// DefaultRotateBytes is the file size at which the active log is rotated.
const DefaultRotateBytes int64 = 10 * 1024 * 1024

// IntegrityReport summarizes a full scan of the log.
type IntegrityReport struct {
	TotalLines     int  `json:"totalLines"`
	ValidEntries   int  `json:"validEntries"`
	InvalidEntries int  `json:"invalidEntries"`
	OK             bool `json:"ok"`
}

// Log appends newline-delimited JSON audit records to a single file,
// rotating it to a timestamped .bak sibling when it grows past the
// threshold.
type Log struct {
	path        string
	rotateBytes int64

	mu     sync.Mutex
	clock  func() time.Time
	logger *slog.Logger
}

// NewLog creates a Log writing to path. A non-positive threshold falls back
// to DefaultRotateBytes.
func NewLog(path string, rotateBytes int64, logger *slog.Logger) *Log {
	if rotateBytes <= 0 {
		rotateBytes = DefaultRotateBytes
	}
	return &Log{
		path:        path,
		rotateBytes: rotateBytes,
		clock:       time.Now,
		logger:      logger.With("component", "audit_log"),
	}
}

// Append serializes the record and appends it as one line. Rotation is
// checked before the write and is best-effort: a rotation failure is logged
// and the write proceeds on the unrotated file.
func (l *Log) Append(record *domain.AuditRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize audit record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeeded(); err != nil {
		l.logger.Error("audit log rotation failed", "error", err, "path", l.path)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	return nil
}

// rotateIfNeeded copies the active file to <path>.<unix-epoch-ms>.bak and
// truncates the original when it has reached the threshold.
func (l *Log) rotateIfNeeded() error {
	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < l.rotateBytes {
		return nil
	}

	backup := l.path + "." + strconv.FormatInt(l.clock().UnixMilli(), 10) + ".bak"
	if err := copyFile(l.path, backup); err != nil {
		return fmt.Errorf("failed to copy audit log to backup: %w", err)
	}
	if err := os.Truncate(l.path, 0); err != nil {
		return fmt.Errorf("failed to truncate audit log: %w", err)
	}

	l.logger.Info("rotated audit log", "backup", backup, "size", info.Size())
	return nil
}

// Read returns a newest-first window of parsed records, silently skipping
// unparsable lines.
func (l *Log) Read(limit, offset int) ([]domain.AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, _, err := l.scan()
	if err != nil {
		return nil, err
	}

	// Newest first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	if offset >= len(records) {
		return []domain.AuditRecord{}, nil
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}

// VerifyIntegrity scans every line, counting parse failures, without
// mutating the log.
func (l *Log) VerifyIntegrity() (IntegrityReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, invalid, err := l.scan()
	if err != nil {
		return IntegrityReport{}, err
	}

	report := IntegrityReport{
		TotalLines:     len(records) + invalid,
		ValidEntries:   len(records),
		InvalidEntries: invalid,
		OK:             invalid == 0,
	}

	if !report.OK {
		l.logger.Warn("audit log integrity check found invalid entries",
			"invalid_entries", report.InvalidEntries,
			"total_lines", report.TotalLines)
	}
	return report, nil
}

// scan parses the active file, returning valid records in file order and
// the count of unparsable lines. A missing file is an empty log.
func (l *Log) scan() ([]domain.AuditRecord, int, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		records []domain.AuditRecord
		invalid int
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec domain.AuditRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			invalid++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to scan audit log: %w", err)
	}

	return records, invalid, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
