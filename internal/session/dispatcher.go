// Package session drives voice navigation for one page: the [Dispatcher]
// turns a transcript into an executed command, and the [Controller] runs the
// listening state machine around a [recognizer.Recognizer].
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/voicenav/internal/action"
	"github.com/MrWong99/voicenav/internal/command"
	"github.com/MrWong99/voicenav/internal/history"
	"github.com/MrWong99/voicenav/internal/observe"
)

// Executor performs page intents. [*action.Executor] implements it.
type Executor interface {
	Execute(ctx context.Context, in command.Intent) action.Outcome
}

var _ Executor = (*action.Executor)(nil)

// Appender records dispatched commands. [*history.Ring] implements it.
type Appender interface {
	Append(ctx context.Context, e history.Entry) (history.Entry, error)
}

var _ Appender = (*history.Ring)(nil)

// Dispatch is the result of handling one transcript.
type Dispatch struct {
	Transcript string
	Intent     command.Intent
	Outcome    action.Outcome

	// Entry is the history record; its ID is empty without a history.
	Entry history.Entry
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithHistory appends every dispatched transcript to h.
func WithHistory(h Appender) DispatcherOption {
	return func(d *Dispatcher) { d.history = h }
}

// WithMetrics records command counts and latency on m.
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithParser replaces the built-in command grammar.
func WithParser(p *command.Parser) DispatcherOption {
	return func(d *Dispatcher) { d.parser = p }
}

// Dispatcher classifies transcripts and executes page intents. Listening
// control intents are classified but never executed; the caller acts on
// them.
type Dispatcher struct {
	exec    Executor
	parser  *command.Parser
	history Appender
	metrics *observe.Metrics
}

// NewDispatcher returns a Dispatcher executing on exec.
func NewDispatcher(exec Executor, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{exec: exec, parser: command.NewParser()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch parses transcript, executes the intent and records the result.
func (d *Dispatcher) Dispatch(ctx context.Context, transcript string, confidence float64) Dispatch {
	start := time.Now()
	in := d.parser.Parse(transcript)
	ctx, span := observe.StartCommandSpan(ctx, observe.SpanDispatch, in.Kind.String())

	var out action.Outcome
	switch in.Kind {
	case command.KindStartListening:
		out = action.Outcome{Success: true, Message: StatusListening, Reason: action.ReasonOK}
	case command.KindStopListening:
		out = action.Outcome{Success: true, Message: StatusStopping, Reason: action.ReasonOK}
	default:
		out = d.exec.Execute(ctx, in)
	}
	elapsed := time.Since(start)

	observe.EndCommandSpan(span, string(out.Reason), out.Success, nil)
	d.metrics.RecordCommand(ctx, in.Kind.String(), string(out.Reason), elapsed)
	observe.Logger(ctx).Info("session: command dispatched",
		"intent", in.Kind.String(),
		"reason", string(out.Reason),
		"success", out.Success,
		"duration", elapsed,
	)

	res := Dispatch{Transcript: transcript, Intent: in, Outcome: out}
	res.Entry = history.Entry{
		Command:    transcript,
		Confidence: confidence,
		Intent:     in.Kind.String(),
		Success:    out.Success,
		Message:    out.Status(),
	}
	if d.history != nil {
		// Append keeps the entry in memory even when persisting fails.
		e, err := d.history.Append(ctx, res.Entry)
		if err != nil {
			slog.Warn("session: history append failed", "err", err)
		}
		if e.ID != "" {
			res.Entry = e
		}
	}
	return res
}
