package prefs

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type mockRow struct {
	data []byte
	err  error
}

func (r mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*[]byte) = r.data
	return nil
}

type mockDB struct {
	execSQL  []string
	execArgs [][]any
	execErr  error
	row      mockRow
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execSQL = append(m.execSQL, sql)
	m.execArgs = append(m.execArgs, args)
	return pgconn.CommandTag{}, m.execErr
}

func (m *mockDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return m.row
}

func TestPostgres_Get(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db := &mockDB{row: mockRow{err: pgx.ErrNoRows}}
	if _, err := NewPostgres(db, nil).Get(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("no rows: err = %v, want ErrNotFound", err)
	}

	db.row = mockRow{data: []byte(`{"isListening":true,"popupPosition":{"x":1,"y":2}}`)}
	p, err := NewPostgres(db, nil).Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsListening || p.PopupPosition != (Position{1, 2}) || !p.FloatingPopupEnabled {
		t.Errorf("Get = %+v", p)
	}
}

func TestPostgres_SetAndMigrate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := &mockDB{}
	s := NewPostgres(db, nil)

	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, Preferences{IsMinimized: true}); err != nil {
		t.Fatal(err)
	}
	if len(db.execSQL) != 2 || !strings.Contains(db.execSQL[1], "ON CONFLICT (profile)") {
		t.Fatalf("exec = %v", db.execSQL)
	}
	if got := db.execArgs[1][0]; got != "default" {
		t.Errorf("profile = %v", got)
	}
	if data := string(db.execArgs[1][1].([]byte)); !strings.Contains(data, `"isMinimized":true`) {
		t.Errorf("data = %s", data)
	}

	db.execErr = errors.New("boom")
	if err := s.Ping(ctx); err == nil {
		t.Error("Ping: want error")
	}
}

func TestPostgres_CloseRunsHook(t *testing.T) {
	t.Parallel()
	closed := false
	s := NewPostgres(&mockDB{}, func() { closed = true })
	_ = s.Close()
	if !closed {
		t.Error("close hook not called")
	}
}

func TestPostgres_Integration(t *testing.T) {
	dsn := os.Getenv("VOICENAV_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICENAV_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	s := NewPostgres(pool, pool.Close)
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _, _ = pool.Exec(ctx, `DELETE FROM voicenav_preferences`) })

	got, err := s.Update(ctx, func(p *Preferences) { p.IsListening = true })
	if err != nil {
		t.Fatal(err)
	}
	back, err := s.Get(ctx)
	if err != nil || back != got {
		t.Errorf("Get = %+v, %v; want %+v", back, err, got)
	}
}
