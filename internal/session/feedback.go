package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voicenav/internal/recognizer"
)

// Tone tells the feedback surface how to style a status line.
type Tone string

const (
	ToneInfo      Tone = "info"
	ToneListening Tone = "listening"
	ToneSuccess   Tone = "success"
	ToneError     Tone = "error"
	ToneStopped   Tone = "stopped"
	ToneReady     Tone = "ready"
)

// Status lines owned by the controller. Command outcomes bring their own.
const (
	StatusReady       = "Ready"
	StatusListening   = "🎙️ Listening..."
	StatusRestarting  = "🎙️ Ready..."
	StatusStopping    = "🛑 Stopping"
	StatusStopped     = "⏹️ Stopped"
	StatusUnavailable = "❌ Speech recognition not supported"
	StatusStartFailed = "❌ Error"
)

// DefaultStatusRevert is how long a success status stays before the surface
// returns to [StatusReady].
const DefaultStatusRevert = 2 * time.Second

// Feedback is the status surface of a listening session, such as a widget
// on the page.
type Feedback interface {
	Show(text string, tone Tone)
}

// FeedbackFunc adapts a function to [Feedback].
type FeedbackFunc func(text string, tone Tone)

// Show implements [Feedback].
func (f FeedbackFunc) Show(text string, tone Tone) { f(text, tone) }

type nopFeedback struct{}

func (nopFeedback) Show(string, Tone) {}

// RevertingFeedback forwards to another surface and resets it to
// [StatusReady] some time after a success status, unless something else
// was shown in between.
type RevertingFeedback struct {
	next  Feedback
	after time.Duration

	mu  sync.Mutex
	gen uint64
}

var _ Feedback = (*RevertingFeedback)(nil)

// NewRevertingFeedback wraps next. A non-positive after selects
// [DefaultStatusRevert].
func NewRevertingFeedback(next Feedback, after time.Duration) *RevertingFeedback {
	if after <= 0 {
		after = DefaultStatusRevert
	}
	return &RevertingFeedback{next: next, after: after}
}

// Show implements [Feedback].
func (f *RevertingFeedback) Show(text string, tone Tone) {
	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	f.next.Show(text, tone)
	if tone != ToneSuccess {
		return
	}
	time.AfterFunc(f.after, func() {
		f.mu.Lock()
		current := f.gen == gen
		f.mu.Unlock()
		if current {
			f.next.Show(StatusReady, ToneReady)
		}
	})
}

// ErrorMessage is the status line for a recognition failure.
func ErrorMessage(kind recognizer.ErrorKind) string {
	switch kind {
	case recognizer.ErrNoSpeech:
		return "No speech detected. Try speaking again."
	case recognizer.ErrAudioCapture:
		return "Microphone not accessible. Check permissions."
	case recognizer.ErrNotAllowed:
		return "Microphone permission denied."
	case recognizer.ErrNetwork:
		return "Network error. Check your connection."
	default:
		return fmt.Sprintf("Speech recognition error: %s", kind)
	}
}
