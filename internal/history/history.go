// Package history keeps the most recent voice commands with their outcome.
//
// [Ring] is an in-memory bounded log. A [Persister] can mirror every entry to
// durable storage ([JSONL] file or [Postgres]) so the log survives restarts.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 50

// Entry is one dispatched command.
type Entry struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Intent     string    `json:"intent"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
}

// Persister mirrors entries to durable storage.
type Persister interface {
	Save(ctx context.Context, e Entry) error

	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
}

// Option configures a [Ring].
type Option func(*Ring)

// WithPersister mirrors appended entries to p.
func WithPersister(p Persister) Option {
	return func(r *Ring) { r.persist = p }
}

// Ring is a bounded, concurrency-safe command log.
type Ring struct {
	mu      sync.Mutex
	buf     []Entry
	next    int
	full    bool
	persist Persister
}

// NewRing returns a Ring holding capacity entries; non-positive capacity
// selects [DefaultCapacity].
func NewRing(capacity int, opts ...Option) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Ring{buf: make([]Entry, capacity)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load fills the ring from the persister, if any. Call it once at startup.
func (r *Ring) Load(ctx context.Context) error {
	if r.persist == nil {
		return nil
	}
	entries, err := r.persist.Recent(ctx, len(r.buf))
	if err != nil {
		return fmt.Errorf("history: load: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(entries) - 1; i >= 0; i-- {
		r.pushLocked(entries[i])
	}
	return nil
}

// Append stores e, assigning an ID and timestamp when missing. A failure to
// persist is logged and returned, but the entry is kept in memory.
func (r *Ring) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(e.Timestamp), ulid.DefaultEntropy()).String()
	}

	r.mu.Lock()
	r.pushLocked(e)
	r.mu.Unlock()

	if r.persist != nil {
		if err := r.persist.Save(ctx, e); err != nil {
			slog.Warn("history: persist failed", "id", e.ID, "err", err)
			return e, fmt.Errorf("history: persist %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func (r *Ring) pushLocked(e Entry) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// List returns up to limit entries, newest first. Non-positive limit returns
// everything held.
func (r *Ring) List(limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Len returns the number of entries held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}
