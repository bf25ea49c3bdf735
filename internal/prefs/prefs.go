// Package prefs stores the user's widget and listening preferences.
//
// The record survives navigations and restarts so a page can resume
// listening after a reload. Backends: [Memory], [File], [Redis] and
// [Postgres]; [Open] picks one from configuration.
package prefs

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by [Store.Get] when nothing was stored yet.
var ErrNotFound = errors.New("prefs: not found")

// Position is the widget's screen position in CSS pixels.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Preferences is the persisted record. The JSON names are shared with the
// browser client.
type Preferences struct {
	FloatingPopupEnabled bool     `json:"floatingPopupEnabled"`
	PopupPosition        Position `json:"popupPosition"`
	IsListening          bool     `json:"isListening"`
	ContinuousListening  bool     `json:"continuousListening"`
	IsMinimized          bool     `json:"isMinimized"`
}

// Defaults is the record used before anything was stored.
func Defaults() Preferences {
	return Preferences{
		FloatingPopupEnabled: true,
		PopupPosition:        Position{X: 20, Y: 20},
	}
}

// Store persists one [Preferences] record.
type Store interface {
	// Get returns the stored record or [ErrNotFound].
	Get(ctx context.Context) (Preferences, error)

	// Set replaces the stored record.
	Set(ctx context.Context, p Preferences) error

	// Update applies fn to the current record (or [Defaults]) and stores
	// the result atomically with respect to other Update calls.
	Update(ctx context.Context, fn func(*Preferences)) (Preferences, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// GetOrDefault returns the stored record, or [Defaults] when none exists.
func GetOrDefault(ctx context.Context, s Store) (Preferences, error) {
	p, err := s.Get(ctx)
	if errors.Is(err, ErrNotFound) {
		return Defaults(), nil
	}
	return p, err
}

// lockedUpdate implements Update for backends whose only writer is this
// process.
type lockedUpdate struct {
	mu sync.Mutex
}

func (l *lockedUpdate) update(ctx context.Context, s Store, fn func(*Preferences)) (Preferences, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, err := GetOrDefault(ctx, s)
	if err != nil {
		return Preferences{}, err
	}
	fn(&p)
	if err := s.Set(ctx, p); err != nil {
		return Preferences{}, err
	}
	return p, nil
}
