package prefs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestStores_GetSetUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		new  func(t *testing.T) Store
	}{
		{"memory", func(*testing.T) Store { return NewMemory() }},
		{"file", func(t *testing.T) Store { return NewFile(filepath.Join(t.TempDir(), "prefs.json")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := tt.new(t)
			defer s.Close()

			if _, err := s.Get(ctx); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get on empty store: err = %v, want ErrNotFound", err)
			}
			p, err := GetOrDefault(ctx, s)
			if err != nil || p != Defaults() {
				t.Fatalf("GetOrDefault = %+v, %v", p, err)
			}

			want := Preferences{FloatingPopupEnabled: true, PopupPosition: Position{X: 5, Y: 7}, IsMinimized: true}
			if err := s.Set(ctx, want); err != nil {
				t.Fatal(err)
			}
			got, err := s.Get(ctx)
			if err != nil || got != want {
				t.Fatalf("Get = %+v, %v; want %+v", got, err, want)
			}

			got, err = s.Update(ctx, func(p *Preferences) {
				p.IsListening = true
				p.ContinuousListening = true
			})
			if err != nil {
				t.Fatal(err)
			}
			if !got.IsListening || !got.ContinuousListening || got.PopupPosition != want.PopupPosition {
				t.Errorf("Update = %+v", got)
			}
			if err := s.Ping(ctx); err != nil {
				t.Errorf("Ping: %v", err)
			}
		})
	}
}

func TestMemory_ConcurrentUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update(ctx, func(p *Preferences) { p.PopupPosition.X++ })
		}()
	}
	wg.Wait()

	p, _ := s.Get(ctx)
	if want := Defaults().PopupPosition.X + 50; p.PopupPosition.X != want {
		t.Errorf("X = %d, want %d", p.PopupPosition.X, want)
	}
}

func TestFile_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	path := filepath.Join(dir, "prefs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path).Get(ctx); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get on corrupt file: err = %v", err)
	}

	missing := NewFile(filepath.Join(dir, "nope", "prefs.json"))
	if err := missing.Ping(ctx); err == nil {
		t.Error("Ping with missing directory: want error")
	}
	if err := missing.Set(ctx, Defaults()); err == nil {
		t.Error("Set with missing directory: want error")
	}
}

func TestFile_PartialDocumentKeepsDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte(`{"isListening":true}`), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := NewFile(path).Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsListening || !p.FloatingPopupEnabled || p.PopupPosition != Defaults().PopupPosition {
		t.Errorf("Get = %+v", p)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"default is memory", Options{}, false},
		{"file", Options{Backend: BackendFile, Path: filepath.Join(t.TempDir(), "p.json")}, false},
		{"file without path", Options{Backend: BackendFile}, true},
		{"unknown", Options{Backend: "etcd"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := Open(ctx, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if s != nil {
				_ = s.Close()
			}
		})
	}
}
