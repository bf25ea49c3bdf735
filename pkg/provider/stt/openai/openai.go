// Package openai provides speech-to-text through the OpenAI audio
// transcription endpoint.
//
// The endpoint is one-shot, so the provider is a [batch.Provider]: utterances
// are segmented locally and each is uploaded as a WAV file. Keyword hints
// are passed as the transcription prompt.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voicenav/pkg/audio"
	"github.com/MrWong99/voicenav/pkg/provider/stt"
	"github.com/MrWong99/voicenav/pkg/provider/stt/batch"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = oai.AudioModelWhisper1

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	*batch.Provider

	client oai.Client
	model  string
}

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries *int
	language   string
	batchOpts  []batch.Option
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL (any OpenAI-compatible server).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the client retries failed requests.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = &n }
}

// WithLanguage sets the default recognition language.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithSegmentation forwards options to the utterance segmenter.
func WithSegmentation(opts ...batch.Option) Option {
	return func(c *config) { c.batchOpts = append(c.batchOpts, opts...) }
}

// New constructs a Provider. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.maxRetries != nil {
		reqOpts = append(reqOpts, option.WithMaxRetries(*cfg.maxRetries))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	p := &Provider{client: oai.NewClient(reqOpts...), model: model}
	p.Provider = batch.New("openai stt", p,
		append([]batch.Option{batch.WithDefaults(cfg.language, audio.Format{})}, cfg.batchOpts...)...)
	return p, nil
}

// Transcribe implements [batch.Transcriber].
func (p *Provider) Transcribe(ctx context.Context, u batch.Utterance) (stt.Transcript, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(u.WAV()), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if lang := isoLanguage(u.Language); lang != "" {
		params.Language = oai.String(lang)
	}
	if prompt := keywordPrompt(u.Keywords); prompt != "" {
		params.Prompt = oai.String(prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return stt.Transcript{}, fmt.Errorf("openai stt: transcribe: %w", err)
		}
		return stt.Transcript{}, fmt.Errorf("openai stt: transcribe: %w: %w", stt.ErrTransport, err)
	}
	return stt.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: u.Language,
		Duration: u.Duration(),
	}, nil
}

// isoLanguage reduces a BCP-47 tag to the ISO-639-1 code the API expects.
func isoLanguage(tag string) string {
	base, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(base)
}

// keywordPrompt lists hint words as a comma-separated prompt.
func keywordPrompt(kws []stt.KeywordBoost) string {
	words := make([]string, 0, len(kws))
	for _, k := range kws {
		if k.Keyword != "" {
			words = append(words, k.Keyword)
		}
	}
	return strings.Join(words, ", ")
}
