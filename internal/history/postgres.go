package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the command history table.
const Schema = `
CREATE TABLE IF NOT EXISTS voicenav_command_history (
    id          TEXT PRIMARY KEY,
    command     TEXT NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    intent      TEXT NOT NULL,
    success     BOOLEAN NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_voicenav_command_history_created ON voicenav_command_history(created_at DESC);
`

// DB is satisfied by *pgxpool.Pool and *pgx.Conn.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres persists entries to PostgreSQL.
type Postgres struct {
	db DB
}

var _ Persister = (*Postgres)(nil)

// NewPostgres returns a persister on db. Call [Postgres.Migrate] first.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate applies [Schema].
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Save inserts e; re-saving an ID is a no-op.
func (p *Postgres) Save(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO voicenav_command_history (id, command, confidence, intent, success, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`
	if _, err := p.db.Exec(ctx, q, e.ID, e.Command, e.Confidence, e.Intent, e.Success, e.Message, e.Timestamp); err != nil {
		return fmt.Errorf("history: save: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (p *Postgres) Recent(ctx context.Context, n int) ([]Entry, error) {
	const q = `
		SELECT id, command, confidence, intent, success, message, created_at
		FROM voicenav_command_history
		ORDER BY created_at DESC, id DESC
		LIMIT $1`
	rows, err := p.db.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Command, &e.Confidence, &e.Intent, &e.Success, &e.Message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return out, nil
}
