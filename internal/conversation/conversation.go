// Package conversation drives multi-turn exchanges over an open backend
// session.
//
// A [Conversation] owns one [chat.Session] and exposes turns as normalized
// event streams. When a turn pauses on tool calls, the conversation invokes
// the configured [Executor], feeds the results back to the backend, and
// resumes streaming — callers see one continuous event sequence per turn,
// tool rounds included.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wovenai/loom/internal/observe"
	"github.com/wovenai/loom/internal/stream"
	"github.com/wovenai/loom/pkg/provider/chat"
	"github.com/wovenai/loom/pkg/types"
)

// defaultMaxToolRounds bounds consecutive tool rounds within one turn, so a
// backend that keeps requesting tools cannot loop forever.
const defaultMaxToolRounds = 8

// Executor runs a tool call requested by the model. The returned payload is
// sent back to the backend verbatim. A non-nil error is reported to the
// model as a failed tool result; it does not abort the turn.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// ExecutorFunc adapts a function to the [Executor] interface.
type ExecutorFunc func(ctx context.Context, name string, args map[string]any) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	return f(ctx, name, args)
}

// Conversation runs turns against one open session.
//
// Turns must not overlap: start the next Turn only after the previous turn's
// event channel closed.
type Conversation struct {
	session   chat.Session
	caps      chat.Capabilities
	executor  Executor
	metrics   *observe.Metrics
	maxRounds int
}

// Option configures a [Conversation].
type Option func(*Conversation)

// WithExecutor sets the tool executor. Without one, a turn that pauses on
// tool calls ends in an error event.
func WithExecutor(exec Executor) Option {
	return func(c *Conversation) { c.executor = exec }
}

// WithMetrics attaches turn and tool metrics recording.
func WithMetrics(met *observe.Metrics) Option {
	return func(c *Conversation) { c.metrics = met }
}

// WithMaxToolRounds overrides the per-turn tool round limit.
func WithMaxToolRounds(n int) Option {
	return func(c *Conversation) { c.maxRounds = n }
}

// New creates a conversation over session. caps must be the capabilities of
// the adapter that opened the session — they decide how reasoning text is
// recovered from the stream.
func New(session chat.Session, caps chat.Capabilities, opts ...Option) *Conversation {
	c := &Conversation{
		session:   session,
		caps:      caps,
		maxRounds: defaultMaxToolRounds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the underlying backend session.
func (c *Conversation) Session() chat.Session { return c.session }

// Turn sends text as the user's message and returns the normalized event
// stream for the full turn, tool rounds included. The channel closes after a
// terminal Completed or Error event. Cancel ctx to abort the turn.
func (c *Conversation) Turn(ctx context.Context, text string) <-chan chat.Event {
	out := make(chan chat.Event, 16)
	go c.run(ctx, text, out)
	return out
}

func (c *Conversation) run(ctx context.Context, text string, out chan<- chat.Event) {
	defer close(out)
	ctx, span := observe.StartSpan(ctx, "conversation.turn",
		trace.WithAttributes(
			attribute.String("provider", c.session.Provider()),
			attribute.String("model", c.session.Model()),
		))
	defer span.End()
	start := time.Now()
	defer func() {
		c.metrics.RecordTurn(ctx, c.session.Provider(), time.Since(start))
	}()

	chunks, err := c.session.Send(ctx, text)
	if err != nil {
		c.emit(ctx, out, sendErrorEvent(err))
		return
	}

	for round := 0; ; round++ {
		calls, eventArgs, done := c.pump(ctx, chunks, out)
		if done {
			return
		}

		// The turn paused on tool calls.
		if c.executor == nil {
			c.emit(ctx, out, chat.Event{
				Type:    chat.EventError,
				ErrKind: chat.ErrKindInternal,
				Err:     "model requested tool calls but no executor is configured",
			})
			return
		}
		if round >= c.maxRounds {
			c.emit(ctx, out, chat.Event{
				Type:    chat.EventError,
				ErrKind: chat.ErrKindInternal,
				Err:     fmt.Sprintf("tool round limit reached after %d rounds", c.maxRounds),
			})
			return
		}

		results := c.execute(ctx, calls, eventArgs, out)

		chunks, err = c.session.Continue(ctx, results)
		if err != nil {
			c.emit(ctx, out, sendErrorEvent(err))
			return
		}
	}
}

// pump forwards one normalized round of events to out. It returns the tool
// calls the round paused on, or done=true when the round ended terminally
// (Completed, Error, or cancelled caller).
func (c *Conversation) pump(ctx context.Context, chunks <-chan chat.Chunk, out chan<- chat.Event) (calls []types.ToolCall, args []map[string]any, done bool) {
	norm := stream.NewNormalizer(stream.Options{
		SeparatedReasoning: c.caps.ReasoningChannel,
	})

	for ev := range norm.Run(ctx, chunks) {
		c.metrics.RecordEvent(ctx, ev.Type.String())
		if !c.emit(ctx, out, ev) {
			return nil, nil, true
		}
		switch ev.Type {
		case chat.EventToolCall:
			calls = append(calls, *ev.ToolCall)
			args = append(args, ev.Args)
		case chat.EventCompleted, chat.EventError:
			return nil, nil, true
		}
	}

	if len(calls) == 0 {
		// Channel closed without a terminal event or a tool pause. The
		// normalizer guarantees a terminal event, so this is unreachable
		// unless the caller's context fired between events.
		return nil, nil, true
	}
	return calls, args, false
}

// execute runs the round's tool calls sequentially, emitting a ToolResult
// event per call. Executor failures become error payloads for the model.
func (c *Conversation) execute(ctx context.Context, calls []types.ToolCall, args []map[string]any, out chan<- chat.Event) []chat.ToolResult {
	results := make([]chat.ToolResult, 0, len(calls))
	for i, call := range calls {
		payload, err := c.executor.Execute(ctx, call.Name, args[i])
		c.metrics.RecordToolCall(ctx, call.Name, err)

		res := chat.ToolResult{ID: call.ID, Name: call.Name, Payload: payload}
		if err != nil {
			res.Err = err.Error()
			res.Payload = nil
			observe.Logger(ctx).Warn("tool execution failed",
				"tool", call.Name,
				"call_id", call.ID,
				"error", err,
			)
		}
		results = append(results, res)

		if !c.emit(ctx, out, chat.Event{Type: chat.EventToolResult, Result: &res}) {
			break
		}
	}
	return results
}

// emit sends ev without blocking past caller cancellation. Reports false
// when ctx fired first. The non-blocking attempt comes first: when the
// buffer has room, delivery must not lose a race against an
// already-cancelled context, or the terminal Error(Cancelled) event would
// be dropped on its way out.
func (c *Conversation) emit(ctx context.Context, out chan<- chat.Event, ev chat.Event) bool {
	select {
	case out <- ev:
		return true
	default:
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendErrorEvent classifies a Send/Continue failure into a terminal event.
func sendErrorEvent(err error) chat.Event {
	kind := chat.ErrKindConnection
	switch {
	case errors.Is(err, context.Canceled):
		kind = chat.ErrKindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		kind = chat.ErrKindTimeout
	}
	return chat.Event{Type: chat.EventError, ErrKind: kind, Err: err.Error()}
}
