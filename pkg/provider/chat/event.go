package chat

import "github.com/wovenai/loom/pkg/types"

// EventType tags the variant of a StreamEvent.
type EventType int

const (
	// EventContent carries ordinary answer text.
	EventContent EventType = iota

	// EventThought carries reasoning text isolated from answer text.
	EventThought

	// EventToolCall is a complete tool invocation request. The caller hands
	// it to the tool executor and feeds the result back via Session.Continue.
	EventToolCall

	// EventToolResult reports a tool execution outcome being fed back into
	// the exchange.
	EventToolResult

	// EventCompleted terminates a turn normally.
	EventCompleted

	// EventError terminates a turn with a fault.
	EventError
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventContent:
		return "content"
	case EventThought:
		return "thought"
	case EventToolCall:
		return "tool_call"
	case EventToolResult:
		return "tool_result"
	case EventCompleted:
		return "completed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind classifies terminal stream faults.
type ErrorKind string

const (
	// ErrKindConnection covers open-time and mid-stream transport failures.
	ErrKindConnection ErrorKind = "connection"

	// ErrKindMalformedStream covers unparsable backend chunks.
	ErrKindMalformedStream ErrorKind = "malformed_stream"

	// ErrKindCancelled covers caller-initiated cancellation.
	ErrKindCancelled ErrorKind = "cancelled"

	// ErrKindTimeout covers connection-open and per-chunk idle timeouts.
	ErrKindTimeout ErrorKind = "timeout"

	// ErrKindInternal covers faults that fit no other kind.
	ErrKindInternal ErrorKind = "internal"
)

// Event is one element of the normalized, strictly ordered sequence a turn
// produces. A Completed or Error event is always the terminal element; a
// turn paused for tool execution ends its stream after the last EventToolCall
// without either.
type Event struct {
	// Type selects which of the remaining fields are meaningful.
	Type EventType

	// Text is the delta for EventContent and EventThought.
	Text string

	// ToolCall is set for EventToolCall: a complete call with concatenated,
	// syntactically valid JSON arguments.
	ToolCall *types.ToolCall

	// Args is the parsed argument object for EventToolCall.
	Args map[string]any

	// Result is set for EventToolResult.
	Result *ToolResult

	// Reason is the mapped completion reason for EventCompleted: one of
	// stop, length, content_filter, or the backend's verbatim value when
	// it reports something unknown.
	Reason string

	// Usage is backend token accounting, set on EventCompleted when reported.
	Usage *Usage

	// ErrKind and Err describe the fault for EventError.
	ErrKind ErrorKind
	Err     string
}
