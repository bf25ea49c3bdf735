package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File stores the record as a JSON document. Writes go to a temporary file
// that is renamed over the target.
type File struct {
	path string
	mu   sync.Mutex
	upd  lockedUpdate
}

var _ Store = (*File)(nil)

// NewFile returns a store at path. The directory must exist.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Get(context.Context) (Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Preferences{}, ErrNotFound
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("prefs: read %s: %w", f.path, err)
	}
	p := Defaults()
	if err := json.Unmarshal(data, &p); err != nil {
		return Preferences{}, fmt.Errorf("prefs: decode %s: %w", f.path, err)
	}
	return p, nil
}

func (f *File) Set(_ context.Context, p Preferences) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".prefs-*.json")
	if err != nil {
		return fmt.Errorf("prefs: write %s: %w", f.path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("prefs: write %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("prefs: write %s: %w", f.path, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("prefs: write %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Update(ctx context.Context, fn func(*Preferences)) (Preferences, error) {
	return f.upd.update(ctx, f, fn)
}

// Ping checks that the parent directory exists.
func (f *File) Ping(context.Context) error {
	dir := filepath.Dir(f.path)
	st, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("prefs: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("prefs: %s is not a directory", dir)
	}
	return nil
}

func (f *File) Close() error { return nil }
