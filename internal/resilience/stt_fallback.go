package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voicenav/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] by failing over across several
// speech backends, each behind its own circuit breaker.
//
// The outcome of a session is recorded when it is closed: a stream that
// opened fine but ended with an [stt.ErrTransport] error counts as a failure
// of the backend that served it.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after all earlier ones.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// States returns the breaker state per backend name.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// StartStream opens a session on the first backend that accepts it.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	var errs []error
	for i, e := range f.group.entries {
		done, err := e.breaker.Begin()
		if err != nil {
			slog.Debug("resilience: skipping stt backend, circuit open", "provider", e.name)
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			continue
		}
		h, err := e.value.StartStream(ctx, cfg)
		if err != nil {
			done(err)
			slog.Warn("resilience: stt backend failed, trying next", "provider", e.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			continue
		}
		if i > 0 {
			slog.Info("resilience: served by fallback", "provider", e.name)
		}
		return &trackedSession{SessionHandle: h, done: done}, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// trackedSession reports the session outcome to its breaker on Close.
type trackedSession struct {
	stt.SessionHandle
	done func(error)
	once sync.Once
}

func (s *trackedSession) Close() error {
	err := s.SessionHandle.Close()
	s.once.Do(func() {
		var outcome error
		if serr := s.SessionHandle.Err(); errors.Is(serr, stt.ErrTransport) {
			outcome = serr
		}
		s.done(outcome)
	})
	return err
}
