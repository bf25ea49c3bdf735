// Package whisper provides speech-to-text backed by whisper.
//
// [Provider] talks to a whisper HTTP server. By default it speaks the
// whisper-server protocol:
//
//	POST /transcribe   multipart, field "audio" (WAV)  -> {"text": "...", "language": "en"}
//	GET  /health                                       -> {"status": "healthy", "model": "base"}
//
// whisper.cpp's bundled server (POST /inference, field "file") is selected
// with [WithEndpoint]. A cgo provider linking whisper.cpp directly is built
// with the whispercpp build tag; see NewNative.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:5000", whisper.WithLanguage("en"))
//	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
//	h.SendAudio(pcm)
//	t := <-h.Finals()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voicenav/pkg/audio"
	"github.com/MrWong99/voicenav/pkg/provider/stt"
	"github.com/MrWong99/voicenav/pkg/provider/stt/batch"
)

const (
	defaultTranscribePath = "/transcribe"
	defaultAudioField     = "audio"
	healthPath            = "/health"
)

var _ stt.Provider = (*Provider)(nil)

// ErrUnhealthy is returned by [Provider.Ping] when the server answers but
// does not report itself healthy.
var ErrUnhealthy = errors.New("whisper: server unhealthy")

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model name forwarded to the server. Empty lets the
// server use its loaded model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithEndpoint sets the transcription path and the multipart field that
// carries the audio. whisper.cpp's server uses ("/inference", "file").
func WithEndpoint(path, field string) Option {
	return func(p *Provider) {
		if path != "" {
			p.path = path
		}
		if field != "" {
			p.field = field
		}
	}
}

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.http = c }
}

// WithSegmentation forwards options to the utterance segmenter.
func WithSegmentation(opts ...batch.Option) Option {
	return func(p *Provider) { p.batchOpts = append(p.batchOpts, opts...) }
}

// Provider implements [stt.Provider] against a whisper HTTP server.
type Provider struct {
	*batch.Provider

	serverURL string
	model     string
	language  string
	path      string
	field     string
	http      *http.Client
	batchOpts []batch.Option
}

// New returns a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  "en",
		path:      defaultTranscribePath,
		field:     defaultAudioField,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	p.Provider = batch.New("whisper", p, append([]batch.Option{batch.WithDefaults(p.language, audio.Format{})}, p.batchOpts...)...)
	return p, nil
}

// Transcribe implements [batch.Transcriber] with one multipart upload.
func (p *Provider) Transcribe(ctx context.Context, u batch.Utterance) (stt.Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile(p.field, "audio.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(u.WAV()); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: write audio: %w", err)
	}
	fields := map[string]string{"language": shortLanguage(u.Language), "model": p.model}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+p.path, &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.http.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w: %w", stt.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Transcript{}, fmt.Errorf("whisper: %w: HTTP %d: %s", stt.ErrTransport, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: decode response: %w", err)
	}
	if result.Error != "" {
		return stt.Transcript{}, fmt.Errorf("whisper: server error: %s", result.Error)
	}
	return stt.Transcript{
		Text:     strings.TrimSpace(result.Text),
		Language: result.Language,
		Duration: u.Duration(),
	}, nil
}

// Ping checks GET /health and returns the model the server reports.
func (p *Provider) Ping(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+healthPath, nil)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: %w: %w", stt.ErrTransport, err)
	}
	defer resp.Body.Close()

	var status struct {
		Status string `json:"status"`
		Model  string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("whisper: decode health: %w", err)
	}
	if resp.StatusCode != http.StatusOK || status.Status != "healthy" {
		return status.Model, fmt.Errorf("%w: HTTP %d status %q", ErrUnhealthy, resp.StatusCode, status.Status)
	}
	return status.Model, nil
}

// shortLanguage turns "en-US" into "en"; whisper only knows base codes.
func shortLanguage(tag string) string {
	base, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(base)
}
