package history

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type mockRows struct {
	data [][]any
	idx  int
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return nil }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *float64:
			*d = v.(float64)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		}
	}
	return nil
}

type mockDB struct {
	execSQL  []string
	execArgs [][]any
	execErr  error
	rows     *mockRows
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execSQL = append(m.execSQL, sql)
	m.execArgs = append(m.execArgs, args)
	return pgconn.CommandTag{}, m.execErr
}

func (m *mockDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return m.rows, nil
}

func TestPostgres_Save(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	p := NewPostgres(db)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := p.Save(context.Background(), Entry{ID: "01H", Command: "submit", Intent: "submit_form", Success: true, Timestamp: ts}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(db.execSQL[0], "ON CONFLICT (id) DO NOTHING") {
		t.Errorf("sql = %s", db.execSQL[0])
	}
	if args := db.execArgs[0]; args[0] != "01H" || args[6] != ts {
		t.Errorf("args = %v", args)
	}

	db.execErr = errors.New("conn refused")
	if err := p.Save(context.Background(), Entry{ID: "x"}); err == nil || !strings.Contains(err.Error(), "history: save") {
		t.Errorf("err = %v", err)
	}
	if err := p.Migrate(context.Background()); err == nil {
		t.Error("expected migrate error")
	}
}

func TestPostgres_Recent(t *testing.T) {
	t.Parallel()
	ts := time.Now().UTC()
	db := &mockDB{rows: &mockRows{data: [][]any{
		{"b", "scroll up", 0.8, "scroll_up", true, "↑ Scrolled", ts},
		{"a", "click x", 0.5, "click", false, "❌ Not found", ts.Add(-time.Second)},
	}}}
	got, err := NewPostgres(db).Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].Success || got[1].Confidence != 0.5 {
		t.Errorf("Recent = %+v", got)
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
	defer pool.Close()

	p := NewPostgres(pool)
	if err := p.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	r := NewRing(5, WithPersister(p))
	e, err := r.Append(ctx, Entry{Command: "integration " + t.Name(), Intent: "unknown"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM voicenav_command_history WHERE id = $1`, e.ID)
	})
	got, err := p.Recent(ctx, 50)
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range got {
		if g.ID == e.ID {
			return
		}
	}
	t.Errorf("entry %s not found in %d recent rows", e.ID, len(got))
}
