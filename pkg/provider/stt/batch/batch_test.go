package batch

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voicenav/pkg/provider/stt"
)

// speech returns ms milliseconds of a 440 Hz tone at 16 kHz mono, RMS ~7000.
func speech(ms int) []byte {
	n := 16 * ms
	buf := make([]byte, n*2)
	for i := range n {
		v := int16(10000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func silence(ms int) []byte { return make([]byte, 32*ms) }

func TestSegmenter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks [][]byte
		want   []int // byte lengths of emitted utterances
	}{
		{
			name:   "leading silence dropped",
			chunks: [][]byte{silence(100), silence(600)},
			want:   nil,
		},
		{
			name:   "pause ends utterance",
			chunks: [][]byte{silence(100), speech(200), silence(300), silence(300)},
			want:   []int{len(speech(200)) + len(silence(600))},
		},
		{
			name:   "short pause keeps utterance open",
			chunks: [][]byte{speech(100), silence(200), speech(100), silence(500)},
			want:   []int{len(speech(200)) + len(silence(700))},
		},
		{
			name:   "max length forces flush",
			chunks: [][]byte{speech(600), speech(600)},
			want:   []int{len(speech(1200))},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			seg := newSegmenter(16000, 1, DefaultRMSThreshold, 500*time.Millisecond, time.Second)
			var got []int
			for _, c := range tc.chunks {
				if u := seg.push(c); u != nil {
					got = append(got, len(u))
				}
			}
			if len(got) != len(tc.want) {
				t.Fatalf("utterances = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("utterance %d = %dB, want %dB", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestSession_EmitsTranscriptPerUtterance(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	engine := TranscriberFunc(func(_ context.Context, u Utterance) (stt.Transcript, error) {
		calls.Add(1)
		if u.Language != "de" || u.SampleRate != 16000 {
			t.Errorf("utterance config = %s %dHz", u.Language, u.SampleRate)
		}
		return stt.Transcript{Text: "scroll down", Confidence: 0.9}, nil
	})

	p := New("test", engine)
	h, err := p.StartStream(context.Background(), stt.StreamConfig{Language: "de"})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	for _, c := range [][]byte{speech(200), silence(600)} {
		if err := h.SendAudio(c); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case tr := <-h.Finals():
		if tr.Text != "scroll down" || tr.Confidence != 0.9 {
			t.Errorf("transcript = %+v", tr)
		}
		if tr.Duration != 800*time.Millisecond {
			t.Errorf("duration = %v, want 800ms", tr.Duration)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transcript")
	}
	if calls.Load() != 1 {
		t.Errorf("engine calls = %d, want 1", calls.Load())
	}
}

func TestSession_CloseFlushesPendingSpeech(t *testing.T) {
	t.Parallel()

	engine := TranscriberFunc(func(context.Context, Utterance) (stt.Transcript, error) {
		return stt.Transcript{Text: "click login"}, nil
	})
	h, _ := New("test", engine).StartStream(context.Background(), stt.StreamConfig{})
	_ = h.SendAudio(speech(100))
	_ = h.Close()

	var texts []string
	for tr := range h.Finals() {
		texts = append(texts, tr.Text)
	}
	if len(texts) != 1 || texts[0] != "click login" {
		t.Errorf("finals = %v", texts)
	}
	if err := h.SendAudio(speech(10)); !errors.Is(err, stt.ErrClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrClosed", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestSession_ErrorIsRecorded(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	engine := TranscriberFunc(func(context.Context, Utterance) (stt.Transcript, error) {
		return stt.Transcript{}, boom
	})
	h, _ := New("test", engine).StartStream(context.Background(), stt.StreamConfig{})
	_ = h.SendAudio(speech(100))
	_ = h.Close()

	for range h.Finals() {
		t.Error("unexpected transcript")
	}
	if !errors.Is(h.Err(), boom) {
		t.Errorf("Err = %v, want boom", h.Err())
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New("test", TranscriberFunc(nil)).StartStream(ctx, stt.StreamConfig{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
