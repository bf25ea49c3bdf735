package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// JSONL persists entries as one JSON object per line, appending to a file.
type JSONL struct {
	path string
	mu   sync.Mutex
}

var _ Persister = (*JSONL)(nil)

// NewJSONL returns a persister writing to path. The file is created on the
// first Save.
func NewJSONL(path string) *JSONL {
	return &JSONL{path: path}
}

// Save appends e as one line.
func (j *JSONL) Save(_ context.Context, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open %s: %w", j.path, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("history: write %s: %w", j.path, err)
	}
	return f.Close()
}

// Recent reads the file and returns its last n entries, newest first.
// Unparseable lines are skipped. A missing file yields no entries.
func (j *JSONL) Recent(ctx context.Context, n int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", j.path, err)
	}
	defer f.Close()

	var all []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e Entry
		if json.Unmarshal(sc.Bytes(), &e) == nil && e.ID != "" {
			all = append(all, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("history: read %s: %w", j.path, err)
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	for i, k := 0, len(all)-1; i < k; i, k = i+1, k-1 {
		all[i], all[k] = all[k], all[i]
	}
	return all, nil
}
