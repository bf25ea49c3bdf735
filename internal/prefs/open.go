package prefs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend names accepted by [Open].
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and parameterises a backend.
type Options struct {
	Backend       string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
	PostgresDSN   string
}

// Open constructs the configured store. The postgres backend is migrated
// before it is returned.
func Open(ctx context.Context, o Options) (Store, error) {
	switch o.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		if o.Path == "" {
			return nil, fmt.Errorf("prefs: file backend needs a path")
		}
		return NewFile(o.Path), nil
	case BackendRedis:
		s := DialRedis(o.RedisAddr, o.RedisPassword, o.RedisDB, o.RedisKey)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		pool, err := pgxpool.New(ctx, o.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("prefs: connect postgres: %w", err)
		}
		s := NewPostgres(pool, pool.Close)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("prefs: unknown backend %q", o.Backend)
	}
}
