// Package chat defines the Adapter interface for conversational AI backends.
//
// An Adapter wraps one backend family — the hosted API or an OpenAI-compatible
// server — and exposes a uniform surface for opening sessions, listing models,
// and probing health without coupling callers to any wire dialect. A Session
// is a bound provider+model+tool-set handle that accepts successive turns of
// one conversation.
//
// Adapters must be safe for concurrent use. A Session is exclusively owned by
// one conversation and is never shared across concurrent turns. Channels
// returned by Send and Continue must be closed by the implementation when the
// stream ends or when the supplied context is cancelled.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/wovenai/loom/pkg/types"
)

// ErrConnection is returned by OpenSession when a lightweight reachability
// check fails. Sessions fail fast at open time rather than deferring the
// failure to the first turn.
var ErrConnection = errors.New("chat: connection failed")

// Capabilities describes what a backend supports. For OpenAI-compatible
// backends these come from the per-backend Strategy; the hosted adapter's
// values are fixed by its wire dialect.
type Capabilities struct {
	// StructuredToolCalls reports whether the backend accepts native tool
	// declarations and emits structured tool-call chunks.
	StructuredToolCalls bool

	// ReasoningChannel reports whether the backend tags reasoning text on a
	// distinct chunk field. When false, reasoning (if any) arrives inline in
	// content text between <think> tags.
	ReasoningChannel bool
}

// HealthRecord is the result of one reachability probe.
type HealthRecord struct {
	// Provider names the probed backend.
	Provider string

	// Healthy reports whether the probe succeeded.
	Healthy bool

	// CheckedAt is when the probe completed.
	CheckedAt time.Time

	// Latency is the probe round-trip time. Zero when the probe failed before
	// any response arrived.
	Latency time.Duration

	// Err holds the probe failure message. Empty when Healthy.
	Err string
}

// SessionConfig carries everything needed to open a session: the bound model,
// the persona's system prompt, and the canonical tool set. The tool set must
// have unique names; adapters reject duplicates at open time.
type SessionConfig struct {
	Model        string
	SystemPrompt string
	Tools        []types.ToolDefinition
}

// ToolResult is an executed tool's outcome fed back into a session for a
// follow-up turn.
type ToolResult struct {
	// ID correlates the result with the ToolCallRequest it answers.
	ID string

	// Name is the tool name, required by backends that address results by name.
	Name string

	// Payload is the tool's JSON-serializable result. Nil when Err is set.
	Payload map[string]any

	// Err is the tool execution failure message, reported back to the model
	// as an error payload rather than aborting the turn.
	Err string
}

// Adapter is the abstraction over one backend family.
type Adapter interface {
	// Name returns the provider name this adapter serves.
	Name() string

	// Capabilities returns static backend capability flags.
	Capabilities() Capabilities

	// OpenSession binds a model, system prompt, and tool set into a Session.
	// It performs a lightweight reachability check and fails fast with an
	// error wrapping [ErrConnection] when the backend is unreachable.
	OpenSession(ctx context.Context, cfg SessionConfig) (Session, error)

	// ListModels returns the models this backend currently exposes. It never
	// fails: discovery errors are logged and an empty list is returned,
	// which callers treat as "no models known".
	ListModels(ctx context.Context) []types.ModelInfo

	// CheckHealth probes backend reachability once and reports the outcome.
	// It does not cache; callers wanting TTL semantics use the health monitor.
	CheckHealth(ctx context.Context) HealthRecord
}

// Session is a bound conversation handle. It owns an append-only message
// history and no other cross-turn mutable state.
type Session interface {
	// Provider returns the provider name this session is bound to.
	Provider() string

	// Model returns the model this session is bound to.
	Model() string

	// Send appends a user message to history and issues a turn. The returned
	// channel emits raw backend chunks in arrival order and is closed when
	// the stream ends. The assistant's accumulated reply is appended to
	// history when the stream completes.
	Send(ctx context.Context, text string) (<-chan Chunk, error)

	// Continue appends tool results to history and issues a follow-up turn
	// chained onto the same logical exchange.
	Continue(ctx context.Context, results []ToolResult) (<-chan Chunk, error)

	// History returns a copy of the session's message history.
	History() []types.Message

	// Close releases any resources held by the session.
	Close() error
}
