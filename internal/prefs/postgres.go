package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the preferences table. One row per profile; voicenav uses
// the profile "default".
const Schema = `
CREATE TABLE IF NOT EXISTS voicenav_preferences (
    profile     TEXT PRIMARY KEY,
    data        JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const defaultProfile = "default"

// DB is satisfied by *pgxpool.Pool and *pgx.Conn.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres stores the record as JSONB.
type Postgres struct {
	db      DB
	profile string
	closeFn func()
	upd     lockedUpdate
}

var _ Store = (*Postgres)(nil)

// NewPostgres returns a store on db. closeFn, if non-nil, runs on Close.
func NewPostgres(db DB, closeFn func()) *Postgres {
	return &Postgres{db: db, profile: defaultProfile, closeFn: closeFn}
}

// Migrate applies [Schema].
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("prefs: migrate: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context) (Preferences, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM voicenav_preferences WHERE profile = $1`, s.profile).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Preferences{}, ErrNotFound
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("prefs: get: %w", err)
	}
	p := Defaults()
	if err := json.Unmarshal(raw, &p); err != nil {
		return Preferences{}, fmt.Errorf("prefs: decode: %w", err)
	}
	return p, nil
}

func (s *Postgres) Set(ctx context.Context, p Preferences) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	const q = `
		INSERT INTO voicenav_preferences (profile, data) VALUES ($1, $2)
		ON CONFLICT (profile) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	if _, err := s.db.Exec(ctx, q, s.profile, data); err != nil {
		return fmt.Errorf("prefs: set: %w", err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, fn func(*Preferences)) (Preferences, error) {
	return s.upd.update(ctx, s, fn)
}

func (s *Postgres) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `SELECT 1`); err != nil {
		return fmt.Errorf("prefs: ping: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
