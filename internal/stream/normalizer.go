package stream

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/wovenai/loom/internal/toolbridge"
	"github.com/wovenai/loom/pkg/provider/chat"
)

// Options selects the Normalizer's thinking-extraction mode, derived from
// the backend Strategy's reasoning-capability flag.
type Options struct {
	// SeparatedReasoning is true for backends that tag reasoning text on a
	// distinct chunk field. When false, content text runs through the
	// inline-tag extractor.
	SeparatedReasoning bool
}

// Normalizer consumes one turn's raw chunk stream and produces the unified
// event sequence. One instance serves exactly one streaming pass: Idle until
// Run, Streaming while chunks arrive, Idle again after the terminal event or
// the tool-call pause.
type Normalizer struct {
	opts      Options
	acc       *toolbridge.Accumulator
	extractor *ThinkingExtractor
}

// NewNormalizer returns a Normalizer ready for one streaming pass.
func NewNormalizer(opts Options) *Normalizer {
	return &Normalizer{
		opts:      opts,
		acc:       toolbridge.NewAccumulator(),
		extractor: NewThinkingExtractor(),
	}
}

// Run consumes chunks until a terminal signal, the channel closing, or ctx
// cancellation, and emits normalized events on the returned channel in
// arrival order. The channel is closed after the terminal event — or, when
// the backend finished with reason tool_calls, after the last tool-call
// request, leaving the turn paused for the caller to supply results via a
// follow-up turn.
func (n *Normalizer) Run(ctx context.Context, chunks <-chan chat.Chunk) <-chan chat.Event {
	out := make(chan chat.Event, 16)
	go func() {
		defer close(out)
		n.run(ctx, chunks, out)
	}()
	return out
}

func (n *Normalizer) run(ctx context.Context, chunks <-chan chat.Chunk, out chan<- chat.Event) {
	emit := func(ev chat.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Pending tool calls are discarded, never partially executed.
			// The terminal event is best effort: the consumer may already
			// have stopped reading.
			n.acc.Discard()
			select {
			case out <- chat.Event{
				Type:    chat.EventError,
				ErrKind: chat.ErrKindCancelled,
				Err:     "turn cancelled: " + ctx.Err().Error(),
			}:
			default:
			}
			return

		case chunk, ok := <-chunks:
			if !ok {
				// Stream closed without a terminal signal.
				n.acc.Discard()
				emit(chat.Event{
					Type:    chat.EventError,
					ErrKind: chat.ErrKindConnection,
					Err:     "stream closed before completion",
				})
				return
			}

			if chunk.Err != nil || chunk.FinishReason == chat.FinishError {
				n.acc.Discard()
				kind, msg := classify(chunk.Err)
				emit(chat.Event{Type: chat.EventError, ErrKind: kind, Err: msg})
				return
			}

			if chunk.Reasoning != "" {
				if !emit(chat.Event{Type: chat.EventThought, Text: chunk.Reasoning}) {
					return
				}
			}
			if chunk.Text != "" && !n.emitText(chunk.Text, emit) {
				return
			}
			for _, delta := range chunk.ToolCalls {
				n.acc.Add(delta)
			}

			if chunk.FinishReason != "" {
				n.finish(chunk, emit)
				return
			}
		}
	}
}

// emitText routes a content delta through the extractor in inline mode, or
// straight out as content in separated mode.
func (n *Normalizer) emitText(text string, emit func(chat.Event) bool) bool {
	if n.opts.SeparatedReasoning {
		return emit(chat.Event{Type: chat.EventContent, Text: text})
	}
	for _, seg := range n.extractor.Feed(text) {
		ev := chat.Event{Type: chat.EventContent, Text: seg.Text}
		if seg.Thought {
			ev.Type = chat.EventThought
		}
		if !emit(ev) {
			return false
		}
	}
	return true
}

// finish handles the turn's terminal chunk: flush extractor state, flush
// pending tool calls as requests, then either pause (tool_calls) or emit the
// mapped completion.
func (n *Normalizer) finish(chunk chat.Chunk, emit func(chat.Event) bool) {
	if !n.opts.SeparatedReasoning {
		for _, seg := range n.extractor.Finish() {
			ev := chat.Event{Type: chat.EventContent, Text: seg.Text}
			if seg.Thought {
				ev.Type = chat.EventThought
			}
			if !emit(ev) {
				return
			}
		}
	}

	calls, args, err := n.acc.Flush()
	if err != nil {
		emit(chat.Event{
			Type:    chat.EventError,
			ErrKind: chat.ErrKindMalformedStream,
			Err:     err.Error(),
		})
		return
	}
	for i := range calls {
		call := calls[i]
		if !emit(chat.Event{Type: chat.EventToolCall, ToolCall: &call, Args: args[i]}) {
			return
		}
	}

	if chunk.FinishReason == chat.FinishToolCalls {
		// Paused: the caller executes the requested tools and resumes the
		// exchange with a follow-up turn. No Completed event yet.
		return
	}
	// Adapters already normalize known finish reasons; unknown backend
	// values pass through verbatim.
	emit(chat.Event{
		Type:   chat.EventCompleted,
		Reason: chunk.FinishReason,
		Usage:  chunk.Usage,
	})
}

// classify maps a transport fault to its event error kind.
func classify(err error) (chat.ErrorKind, string) {
	if err == nil {
		return chat.ErrKindConnection, "stream error"
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, context.Canceled):
		return chat.ErrKindCancelled, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return chat.ErrKindTimeout, err.Error()
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return chat.ErrKindMalformedStream, err.Error()
	default:
		return chat.ErrKindConnection, err.Error()
	}
}
