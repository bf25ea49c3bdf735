// Package deepgram provides a Deepgram-backed STT provider using the
// streaming WebSocket API.
//
// Deepgram endpoints utterances itself, so audio is forwarded as it arrives
// and every result flagged is_final with a non-empty transcript is emitted.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicenav/pkg/provider/stt"
)

const (
	defaultEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel       = "nova-3"
	defaultLanguage    = "en"
	defaultSampleRate  = 16000
	defaultEndpointing = 300 // ms of silence that closes an utterance

	// closeGrace is how long Close waits for results still in flight.
	closeGrace = 2 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpoint overrides the listen URL, e.g. for a self-hosted deployment.
func WithEndpoint(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// WithEndpointing sets how many milliseconds of silence end an utterance.
func WithEndpointing(ms int) Option {
	return func(p *Provider) { p.endpointing = ms }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	sampleRate  int
	endpointing int
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    defaultEndpoint,
		model:       defaultModel,
		language:    defaultLanguage,
		sampleRate:  defaultSampleRate,
		endpointing: defaultEndpointing,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram and starts the read and write loops.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w: %w", stt.ErrTransport, err)
	}

	// The loops outlive the StartStream call; they stop on Close.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		conn:   conn,
		cancel: cancel,
		finals: make(chan stt.Transcript, 16),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop(loopCtx)
	go s.writeLoop(loopCtx)
	return s, nil
}

// buildURL constructs the listen URL for cfg. nova-3 takes "keyterm"
// hints; older models take "keywords" with a boost.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("punctuate", "false")
	q.Set("endpointing", strconv.Itoa(p.endpointing))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	for _, kw := range cfg.Keywords {
		switch {
		case strings.HasPrefix(p.model, "nova-3"):
			q.Add("keyterm", kw.Keyword)
		case kw.Boost != 0:
			q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
		default:
			q.Add("keywords", kw.Keyword)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// response is the subset of a Deepgram message this client reads.
type response struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	// Error messages carry a description instead of results.
	Description string `json:"description"`
}

type session struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	finals chan stt.Transcript
	audio  chan []byte

	errMu sync.Mutex
	err   error

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrClosed
	}
}

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// Close asks Deepgram to flush, waits for the loops and closes the socket.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		timer := time.AfterFunc(closeGrace, s.cancel)
		s.wg.Wait()
		timer.Stop()
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop forwards audio. On close it drains queued audio and sends
// CloseStream so pending results are delivered before the socket ends.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				s.setErr(fmt.Errorf("deepgram: write: %w: %w", stt.ErrTransport, err))
				return
			}
		case <-s.done:
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
					return
				}
			}
		}
	}
}

// readLoop emits finals until the server closes the stream.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				select {
				case <-s.done:
				default:
					s.setErr(fmt.Errorf("deepgram: read: %w: %w", stt.ErrTransport, err))
				}
			}
			return
		}
		t, ok, perr := parseResponse(msg)
		if perr != nil {
			s.setErr(perr)
			continue
		}
		if !ok {
			continue
		}
		select {
		case s.finals <- t:
		case <-ctx.Done():
			return
		}
	}
}

// parseResponse returns a transcript for final, non-empty results. An
// Error message from the server is returned as an error.
func parseResponse(data []byte) (stt.Transcript, bool, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false, nil
	}
	if resp.Type == "Error" {
		return stt.Transcript{}, false, fmt.Errorf("deepgram: server error: %s", resp.Description)
	}
	if resp.Type != "Results" || !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false, nil
	}
	alt := resp.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return stt.Transcript{}, false, nil
	}
	return stt.Transcript{
		Text:       text,
		Confidence: alt.Confidence,
		Duration:   secondsToDuration(resp.Duration),
	}, true, nil
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
