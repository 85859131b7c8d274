package store

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is a RecordStore backed by PostgreSQL, for deployments where
// the ledger must be shared across processes. Schema changes are applied
// with embedded goose migrations at open time.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore connects to the database at the given URL and applies
// pending migrations.
func NewPostgresStore(url string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &PostgresStore{sqlStore{
		db:     db,
		rebind: rebindDollar,
		upsertQuery: rebindDollar(`INSERT INTO records (key, value, state, ts, expires_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				value = EXCLUDED.value,
				state = EXCLUDED.state,
				ts = EXCLUDED.ts,
				expires_at = EXCLUDED.expires_at`),
	}}, nil
}

var _ RecordStore = (*PostgresStore)(nil)
