package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicenav/internal/presence"
	"github.com/MrWong99/voicenav/internal/tab"
	"github.com/MrWong99/voicenav/pkg/audio"
)

const (
	maxFrameBytes = 1 << 20
	writeTimeout  = 5 * time.Second
	replyBuffer   = 16
)

// errClientGone ends the connection goroutines after a clean close.
var errClientGone = errors.New("api: client closed connection")

// conn is one connected tab client.
type conn struct {
	srv     *Server
	ws      *websocket.Conn
	tab     *tab.Tab
	replies chan ServerMessage

	mu      sync.Mutex
	format  AudioFormat
	conv    *audio.Converter
	dropped int
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	format, err := formatFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("api: websocket accept failed", "err", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(maxFrameBytes)

	ctx := r.Context()
	t, err := s.tabs.Open(ctx, r.URL.Query().Get("url"))
	if err != nil {
		slog.Warn("api: open tab failed", "err", err)
		ws.Close(websocket.StatusInternalError, "open page failed")
		return
	}
	defer func() {
		s.limits.forget(t.ID())
		if err := s.tabs.Close(context.WithoutCancel(ctx), t.ID()); err != nil {
			slog.Debug("api: close tab", "tab", t.ID(), "err", err)
		}
	}()

	c := &conn{
		srv:     s,
		ws:      ws,
		tab:     t,
		replies: make(chan ServerMessage, replyBuffer),
		format:  format,
		conv:    &audio.Converter{Target: audio.RecognitionFormat},
	}
	slog.Info("api: client connected", "tab", t.ID(), "remote", r.RemoteAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.readLoop(gctx) })
	err = g.Wait()

	switch {
	case errors.Is(err, errClientGone), errors.Is(err, context.Canceled):
		ws.Close(websocket.StatusNormalClosure, "")
	default:
		slog.Warn("api: connection ended", "tab", t.ID(), "err", err)
		ws.Close(websocket.StatusInternalError, "connection error")
	}
	slog.Info("api: client disconnected", "tab", t.ID(), "dropped_frames", c.droppedFrames())
}

func formatFromQuery(r *http.Request) (AudioFormat, error) {
	f := defaultCapture
	q := r.URL.Query()
	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("rate must be an integer")
		}
		f.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("channels must be an integer")
		}
		f.Channels = n
	}
	if err := validate.Struct(f); err != nil {
		return f, err
	}
	return f, nil
}

func (c *conn) write(ctx context.Context, msg ServerMessage) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.ws, msg)
}

func (c *conn) writeLoop(ctx context.Context) error {
	state := c.srv.coord.State()
	if err := c.write(ctx, ServerMessage{Type: TypeHello, TabID: c.tab.ID(), State: &state}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.replies:
			if err := c.write(ctx, msg); err != nil {
				return err
			}
		case p := <-c.tab.Outbox():
			if err := c.write(ctx, ServerMessage{Type: TypePush, Push: &p}); err != nil {
				return err
			}
		}
	}
}

func (c *conn) reply(ctx context.Context, msg ServerMessage) {
	select {
	case c.replies <- msg:
	case <-ctx.Done():
	}
}

func (c *conn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return errClientGone
			}
			return err
		}
		if typ == websocket.MessageBinary {
			c.audio(data)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(ctx, ServerMessage{Type: TypeError, Error: "invalid JSON: " + err.Error()})
			continue
		}
		if err := validate.Struct(msg); err != nil {
			c.reply(ctx, ServerMessage{Type: TypeError, ID: msg.ID, Error: err.Error()})
			continue
		}
		resp := c.handle(ctx, msg)
		if msg.ID != 0 {
			c.reply(ctx, ServerMessage{Type: TypeResponse, ID: msg.ID, Response: &resp})
		}
	}
}

func (c *conn) handle(ctx context.Context, msg ClientMessage) presence.Response {
	var err error
	switch msg.Type {
	case TypeRequest:
		return c.srv.request(ctx, c.tab.ID(), *msg.Request)
	case TypeVisibility:
		err = c.tab.SetVisible(ctx, *msg.Visible)
	case TypeUnload:
		err = c.tab.Unload(ctx)
	case TypeActivate:
		err = c.srv.coord.Activate(ctx, c.tab.ID())
	case TypeMicError:
		slog.Info("api: microphone error", "tab", c.tab.ID(), "error", msg.Error)
		c.tab.MicrophoneError(micFault(msg.Error))
	case TypeAudioFormat:
		c.mu.Lock()
		c.format = *msg.Format
		c.mu.Unlock()
	}
	if err != nil {
		return presence.Response{Error: err.Error()}
	}
	return presence.Response{Success: true}
}

func (c *conn) audio(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.conv.Convert(audio.Frame{
		Data:       data,
		SampleRate: c.format.SampleRate,
		Channels:   c.format.Channels,
		Captured:   time.Now(),
	})
	if len(f.Data) == 0 {
		return
	}
	if !c.tab.WriteAudio(f) {
		c.dropped++
	}
}

func (c *conn) droppedFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
