//go:build whispercpp

// This file links whisper.cpp through its cgo bindings. libwhisper.a and
// whisper.h must be reachable via LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voicenav/pkg/audio"
	"github.com/MrWong99/voicenav/pkg/provider/stt"
	"github.com/MrWong99/voicenav/pkg/provider/stt/batch"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in-process. The model is loaded once and
// shared; every utterance gets its own whisper context.
type NativeProvider struct {
	*batch.Provider

	mu    sync.Mutex // whisper contexts are created one at a time
	model whisperlib.Model
}

// NewNative loads the model at modelPath.
func NewNative(modelPath, language string, opts ...batch.Option) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model}
	p.Provider = batch.New("whisper-native", p, append([]batch.Option{batch.WithDefaults(language, audio.Format{})}, opts...)...)
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	return p.model.Close()
}

// Transcribe implements [batch.Transcriber].
func (p *NativeProvider) Transcribe(_ context.Context, u batch.Utterance) (stt.Transcript, error) {
	p.mu.Lock()
	wctx, err := p.model.NewContext()
	p.mu.Unlock()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if u.Language != "" {
		if err := wctx.SetLanguage(shortLanguage(u.Language)); err != nil {
			slog.Warn("whisper: unsupported language, using model default", "language", u.Language, "err", err)
		}
	}
	if err := wctx.Process(audio.Float32(u.PCM, u.Channels), nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process: %w", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return stt.Transcript{Text: strings.Join(parts, " "), Language: u.Language, Duration: u.Duration()}, nil
}
