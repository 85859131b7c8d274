package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// sqlStore implements RecordStore on top of database/sql. It is shared by
// the sqlite and postgres backends, which differ only in driver, placeholder
// style and schema bootstrap.
type sqlStore struct {
	db          *sql.DB
	rebind      func(query string) string
	upsertQuery string
}

func (s *sqlStore) Get(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT value, state, ts, expires_at FROM records WHERE key = ?`), key)

	var (
		value     []byte
		state     string
		ts        int64
		expiresAt int64
	)
	if err := row.Scan(&value, &state, &ts, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to get record: %w", err)
	}

	return Record{
		Value:     value,
		State:     state,
		Timestamp: time.Unix(0, ts).UTC(),
		ExpiresAt: fromUnixNano(expiresAt),
	}, nil
}

func (s *sqlStore) Set(ctx context.Context, key string, rec Record) error {
	_, err := s.db.ExecContext(ctx, s.upsertQuery,
		key, rec.Value, rec.State, rec.Timestamp.UnixNano(), toUnixNano(rec.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to set record: %w", err)
	}
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM records WHERE key = ?`), key); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (s *sqlStore) List(ctx context.Context, prefix string) (map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT key, value, state, ts, expires_at FROM records WHERE key LIKE ? ESCAPE '\'`),
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]Record)
	for rows.Next() {
		var (
			key       string
			value     []byte
			state     string
			ts        int64
			expiresAt int64
		)
		if err := rows.Scan(&key, &value, &state, &ts, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out[key] = Record{
			Value:     value,
			State:     state,
			Timestamp: time.Unix(0, ts).UTC(),
			ExpiresAt: fromUnixNano(expiresAt),
		}
	}
	return out, rows.Err()
}

func (s *sqlStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM records WHERE expires_at > 0 AND expires_at <= ?`),
		now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep records: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(removed), nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// rebindDollar rewrites ? placeholders to $1, $2, ... for postgres.
func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func rebindNone(query string) string { return query }

// escapeLike escapes LIKE metacharacters so a key prefix matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
