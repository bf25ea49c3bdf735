package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/voicenav/internal/config"
	"github.com/MrWong99/voicenav/internal/health"
	"github.com/MrWong99/voicenav/internal/observe"
	"github.com/MrWong99/voicenav/internal/resilience"
	"github.com/MrWong99/voicenav/pkg/provider/stt"
)

// Providers holds the speech backend and what the app needs to supervise
// it. A nil STT means voice recognition is unavailable; typed commands
// still work.
type Providers struct {
	STT stt.Provider

	// STTName labels recognition metrics.
	STTName string

	// Checks are added to the readiness probe.
	Checks []health.Checker

	// Closers release provider resources on shutdown.
	Closers []io.Closer
}

// pinger is implemented by providers that can probe their backend.
type pinger interface {
	Ping(ctx context.Context) (string, error)
}

// BuildProviders instantiates the configured speech provider and its
// fallbacks through reg. With fallbacks, every backend sits behind its own
// circuit breaker whose transitions are recorded on m.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}
	primary := cfg.Providers.STT
	if primary.Name == "" {
		return ps, nil
	}

	build := func(e config.ProviderEntry) (stt.Provider, error) {
		p, err := reg.CreateSTT(e, cfg.Listening)
		if err != nil {
			return nil, err
		}
		ps.supervise(e.Name, p)
		slog.Info("app: provider created", "kind", "stt", "name", e.Name)
		return p, nil
	}

	p, err := build(primary)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("app: stt provider not registered, voice recognition unavailable", "name", primary.Name)
		return ps, nil
	}
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", primary.Name, err)
	}
	ps.STT, ps.STTName = p, primary.Name

	if len(cfg.Providers.STTFallbacks) == 0 {
		return ps, nil
	}
	fb := resilience.NewSTTFallback(p, primary.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreakerState(context.Background(), name, int(to))
			},
		},
	})
	for _, e := range cfg.Providers.STTFallbacks {
		p, err := build(e)
		if err != nil {
			slog.Warn("app: skipping stt fallback", "name", e.Name, "err", err)
			continue
		}
		fb.AddFallback(e.Name, p)
	}
	ps.STT = fb
	return ps, nil
}

func (ps *Providers) supervise(name string, p stt.Provider) {
	if pg, ok := p.(pinger); ok {
		ps.Checks = append(ps.Checks, health.Checker{
			Name: "stt/" + name,
			Check: func(ctx context.Context) error {
				_, err := pg.Ping(ctx)
				return err
			},
		})
	}
	if c, ok := p.(io.Closer); ok {
		ps.Closers = append(ps.Closers, c)
	}
}
