package action

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicenav/pkg/page"
)

// MarkKind is the CSS class applied to a highlighted element.
type MarkKind string

const (
	MarkHighlight MarkKind = "voice-nav-highlight"
	MarkSuccess   MarkKind = "voice-nav-success"
	MarkError     MarkKind = "voice-nav-error"
)

var allMarks = []MarkKind{MarkHighlight, MarkSuccess, MarkError}

// DefaultHighlightTimeout is how long a mark stays on its element.
const DefaultHighlightTimeout = 2 * time.Second

// Highlighter keeps at most one element marked. A mark is removed when its
// timer fires, unless a newer mark has replaced it in the meantime.
type Highlighter struct {
	timeout time.Duration

	mu      sync.Mutex
	current page.Element
	gen     uint64
	timer   *time.Timer
}

// NewHighlighter returns a Highlighter whose marks expire after timeout. A
// non-positive timeout selects [DefaultHighlightTimeout].
func NewHighlighter(timeout time.Duration) *Highlighter {
	if timeout <= 0 {
		timeout = DefaultHighlightTimeout
	}
	return &Highlighter{timeout: timeout}
}

// Mark clears any existing mark and tags el with kind.
func (h *Highlighter) Mark(ctx context.Context, el page.Element, kind MarkKind) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clearLocked(ctx)
	if err := el.AddClass(ctx, string(kind)); err != nil {
		return err
	}
	h.current = el
	h.gen++
	gen := h.gen
	h.timer = time.AfterFunc(h.timeout, func() { h.expire(gen) })
	return nil
}

// Clear removes the current mark, if any.
func (h *Highlighter) Clear(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clearLocked(ctx)
}

// Current returns the marked element or nil.
func (h *Highlighter) Current() page.Element {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *Highlighter) clearLocked(ctx context.Context) {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.current == nil {
		return
	}
	for _, k := range allMarks {
		if err := h.current.RemoveClass(ctx, string(k)); err != nil {
			slog.Debug("action: remove mark", "class", k, "err", err)
			break
		}
	}
	h.current = nil
	h.gen++
}

func (h *Highlighter) expire(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.clearLocked(ctx)
}
