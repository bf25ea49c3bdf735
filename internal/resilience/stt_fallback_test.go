package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/voicenav/pkg/provider/stt"
	sttmock "github.com/MrWong99/voicenav/pkg/provider/stt/mock"
)

func newSTTFallback(primary, secondary *sttmock.Provider) *STTFallback {
	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fb.AddFallback("secondary", secondary)
	return fb
}

func TestSTTFallback_StartStream(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		primaryErr       error
		secondaryErr     error
		wantPrimaryCalls int
		wantSecondary    int
		wantErr          bool
	}{
		{name: "primary serves", wantPrimaryCalls: 1},
		{name: "failover", primaryErr: errBackend, wantPrimaryCalls: 1, wantSecondary: 1},
		{name: "all fail", primaryErr: errBackend, secondaryErr: errBackend, wantPrimaryCalls: 1, wantSecondary: 1, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			primary := &sttmock.Provider{StartStreamErr: tc.primaryErr}
			secondary := &sttmock.Provider{StartStreamErr: tc.secondaryErr}
			fb := newSTTFallback(primary, secondary)

			h, err := fb.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr && !errors.Is(err, ErrAllFailed) {
				t.Errorf("err = %v, want ErrAllFailed", err)
			}
			if h != nil {
				_ = h.Close()
			}
			if primary.Calls() != tc.wantPrimaryCalls || secondary.Calls() != tc.wantSecondary {
				t.Errorf("calls = %d/%d, want %d/%d", primary.Calls(), secondary.Calls(), tc.wantPrimaryCalls, tc.wantSecondary)
			}
		})
	}
}

func TestSTTFallback_SessionPassesThrough(t *testing.T) {
	t.Parallel()
	sess := sttmock.NewSession()
	fb := newSTTFallback(&sttmock.Provider{Session: sess}, &sttmock.Provider{})

	h, err := fb.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SendAudio([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	sess.Emit(stt.Transcript{Text: "scroll down"})
	if tr := <-h.Finals(); tr.Text != "scroll down" {
		t.Errorf("final = %q", tr.Text)
	}
	_ = h.Close()
	if sess.AudioChunks() != 1 || !sess.Closed() {
		t.Errorf("chunks=%d closed=%v", sess.AudioChunks(), sess.Closed())
	}
}

func TestSTTFallback_TransportFailureTripsPrimary(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{}
	secondary := &sttmock.Provider{}
	fb := newSTTFallback(primary, secondary)

	for range 2 {
		h, err := fb.StartStream(context.Background(), stt.StreamConfig{})
		if err != nil {
			t.Fatal(err)
		}
		primary.Last().End(fmt.Errorf("read: %w", stt.ErrTransport))
		_ = h.Close()
	}
	if fb.States()["primary"] != StateOpen {
		t.Fatalf("primary state = %v, want open", fb.States()["primary"])
	}

	if _, err := fb.StartStream(context.Background(), stt.StreamConfig{}); err != nil {
		t.Fatal(err)
	}
	if primary.Calls() != 2 || secondary.Calls() != 1 {
		t.Errorf("calls = %d/%d, want 2/1", primary.Calls(), secondary.Calls())
	}
}

func TestSTTFallback_NonTransportErrorNotCounted(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{}
	fb := newSTTFallback(primary, &sttmock.Provider{})

	for range 3 {
		h, _ := fb.StartStream(context.Background(), stt.StreamConfig{})
		primary.Last().End(errors.New("bad audio"))
		_ = h.Close()
	}
	if fb.States()["primary"] != StateClosed {
		t.Errorf("primary state = %v, want closed", fb.States()["primary"])
	}
}
