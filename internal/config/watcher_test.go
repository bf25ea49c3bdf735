package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicenav/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
listening:
  language: en-US
`

const watcherUpdatedYAML = `
server:
  log_level: debug
listening:
  language: en-US
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// rewrite replaces the file and moves its mtime forward so coarse
// filesystem timestamps cannot hide the change.
func rewrite(t *testing.T, path, content string, step int) {
	t.Helper()
	writeFile(t, path, content)
	ts := time.Now().Add(time.Duration(step) * time.Second)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voicenav.yaml")
	writeFile(t, path, watcherValidYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond), config.WithLookup(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log level = %q, want info", got)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voicenav.yaml")
	writeFile(t, path, watcherInvalidYAML)

	if _, err := config.NewWatcher(path, nil, config.WithLookup(noEnv)); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voicenav.yaml")
	writeFile(t, path, watcherValidYAML)

	var (
		mu       sync.Mutex
		old, cur *config.Config
	)
	changed := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(o, n *config.Config) {
		mu.Lock()
		old, cur = o, n
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
	}, config.WithInterval(10*time.Millisecond), config.WithLookup(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	rewrite(t, path, watcherUpdatedYAML, 1)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange not called")
	}
	mu.Lock()
	defer mu.Unlock()
	if old.Server.LogLevel != config.LogInfo || cur.Server.LogLevel != config.LogDebug {
		t.Errorf("change = %q -> %q", old.Server.LogLevel, cur.Server.LogLevel)
	}
	if w.Current() != cur {
		t.Error("Current() is not the new config")
	}
}

func TestWatcher_KeepsLastGoodConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voicenav.yaml")
	writeFile(t, path, watcherValidYAML)

	calls := make(chan *config.Config, 4)
	w, err := config.NewWatcher(path, func(_, n *config.Config) { calls <- n },
		config.WithInterval(10*time.Millisecond), config.WithLookup(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	rewrite(t, path, watcherInvalidYAML, 1)
	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("after invalid edit: log level = %q, want info", got)
	}

	// Touching the file without changing content is not a change.
	rewrite(t, path, watcherValidYAML, 2)
	time.Sleep(100 * time.Millisecond)
	select {
	case n := <-calls:
		t.Fatalf("unexpected onChange with log level %q", n.Server.LogLevel)
	default:
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voicenav.yaml")
	writeFile(t, path, watcherValidYAML)

	w, err := config.NewWatcher(path, nil, config.WithLookup(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}
