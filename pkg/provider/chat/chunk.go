package chat

// Finish reasons reported on the final chunk of a turn. These are already
// normalized across wire dialects by the adapters; unknown backend values
// pass through unchanged and are mapped by the stream normalizer.
const (
	// FinishStop is a natural end of generation.
	FinishStop = "stop"

	// FinishLength means the output token limit was reached.
	FinishLength = "length"

	// FinishToolCalls means the model wants tools executed before continuing.
	FinishToolCalls = "tool_calls"

	// FinishContentFilter means generation was cut by a safety filter.
	FinishContentFilter = "content_filter"

	// FinishError marks a transport-level fault; Err carries the cause.
	FinishError = "error"
)

// Usage holds token accounting reported by the backend. All counts are in
// the model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolCallDelta is one streamed fragment of a tool invocation. Argument text
// for one call may be split across many deltas sharing the same key; callers
// accumulate fragments in arrival order and parse only once the turn's
// finish reason signals the calls are complete.
type ToolCallDelta struct {
	// Index orders concurrent calls within one turn. OpenAI-compatible
	// backends key fragments by index; the hosted dialect emits one complete
	// delta per call.
	Index int

	// ID is the backend-assigned (or adapter-synthesized) call identifier.
	// May be empty on fragments after the first.
	ID string

	// Name is the tool name. May be empty on fragments after the first.
	Name string

	// Arguments is this fragment's argument text. Concatenating all fragments
	// for one call in arrival order yields one JSON object.
	Arguments string
}

// Chunk is a single increment of a streaming turn. A chunk may carry text, a
// reasoning delta, tool-call fragments, a finish signal, or any combination.
// Consumers must handle all fields.
type Chunk struct {
	// Text is the incremental content text. May be empty.
	Text string

	// Reasoning is the incremental reasoning text for backends with a
	// separated reasoning channel. Empty otherwise.
	Reasoning string

	// ToolCalls carries tool-call fragments arriving in this chunk.
	ToolCalls []ToolCallDelta

	// FinishReason is set on the final chunk and empty before it.
	FinishReason string

	// Usage is set on the chunk that carries the backend's token accounting,
	// typically the final one.
	Usage *Usage

	// Err is set together with FinishReason == FinishError for transport
	// faults (malformed chunk, closed connection, timeout, cancellation).
	Err error
}
