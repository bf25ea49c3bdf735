package prefs

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestRedis_Integration(t *testing.T) {
	addr := os.Getenv("VOICENAV_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VOICENAV_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	key := "voicenav:test:" + uuid.NewString()
	s := DialRedis(addr, "", 0, key)
	defer s.Close()
	t.Cleanup(func() { s.client.Del(ctx, key) })

	if err := s.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty key: err = %v", err)
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Update(ctx, func(p *Preferences) { p.PopupPosition.Y++ }); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	p, err := s.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := Defaults().PopupPosition.Y + 5; p.PopupPosition.Y != want {
		t.Errorf("Y = %d, want %d", p.PopupPosition.Y, want)
	}
}

func TestNewRedis_DefaultKey(t *testing.T) {
	t.Parallel()
	s := NewRedis(nil, "")
	if s.key != DefaultRedisKey {
		t.Errorf("key = %q", s.key)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on borrowed client: %v", err)
	}
}
