package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key used when none is configured.
const DefaultRedisKey = "voicenav:preferences"

// maxUpdateRetries bounds optimistic-lock retries in [Redis.Update].
const maxUpdateRetries = 16

// Redis stores the record as a JSON string under one key. Several voicenav
// instances may share it; Update uses WATCH for optimistic locking.
type Redis struct {
	client *redis.Client
	key    string
	owned  bool
}

var _ Store = (*Redis)(nil)

// NewRedis wraps an existing client. Close leaves the client open.
func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// DialRedis connects to addr and owns the resulting client.
func DialRedis(addr, password string, db int, key string) *Redis {
	r := NewRedis(redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}), key)
	r.owned = true
	return r
}

func (r *Redis) Get(ctx context.Context) (Preferences, error) {
	return r.get(ctx, r.client)
}

func (r *Redis) get(ctx context.Context, c redis.Cmdable) (Preferences, error) {
	raw, err := c.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Preferences{}, ErrNotFound
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("prefs: redis get %s: %w", r.key, err)
	}
	p := Defaults()
	if err := json.Unmarshal(raw, &p); err != nil {
		return Preferences{}, fmt.Errorf("prefs: decode %s: %w", r.key, err)
	}
	return p, nil
}

func (r *Redis) Set(ctx context.Context, p Preferences) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("prefs: redis set %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Update(ctx context.Context, fn func(*Preferences)) (Preferences, error) {
	var out Preferences
	txf := func(tx *redis.Tx) error {
		p, err := r.get(ctx, tx)
		if errors.Is(err, ErrNotFound) {
			p = Defaults()
		} else if err != nil {
			return err
		}
		fn(&p)
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("prefs: encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, data, 0)
			return nil
		})
		if err == nil {
			out = p
		}
		return err
	}

	for range maxUpdateRetries {
		err := r.client.Watch(ctx, txf, r.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Preferences{}, fmt.Errorf("prefs: redis update: %w", err)
		}
		return out, nil
	}
	return Preferences{}, fmt.Errorf("prefs: redis update %s: too much contention", r.key)
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("prefs: redis ping: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
