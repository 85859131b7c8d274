package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the pure-Go sqlite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	key TEXT PRIMARY KEY,
	value BLOB,
	state TEXT NOT NULL DEFAULT '',
	ts INTEGER NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_expires_at ON records (expires_at);
`

// SQLiteStore is a RecordStore backed by an embedded sqlite database. It
// gives the ledger and tracker durability across restarts without an
// external database server.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens (creating if necessary) the sqlite database at path
// and ensures the records schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent sweeps.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}

	return &SQLiteStore{sqlStore{
		db:     db,
		rebind: rebindNone,
		upsertQuery: `INSERT INTO records (key, value, state, ts, expires_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				value = excluded.value,
				state = excluded.state,
				ts = excluded.ts,
				expires_at = excluded.expires_at`,
	}}, nil
}

var _ RecordStore = (*SQLiteStore)(nil)
