package toolbridge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/wovenai/loom/pkg/provider/chat"
	"github.com/wovenai/loom/pkg/types"
)

// PendingToolCall accumulates streamed argument fragments for one call until
// the backend signals the call is complete. Fragments are kept in arrival
// order; partial or invalid JSON before completion is expected and is never
// parsed early.
type PendingToolCall struct {
	ID        string
	Name      string
	fragments []string
}

// Arguments returns the concatenation of all fragments received so far.
func (p *PendingToolCall) Arguments() string {
	return strings.Join(p.fragments, "")
}

// Accumulator collects tool-call deltas for one turn, keyed the way the
// backend keys them (fragment index; the hosted dialect emits one complete
// delta per call under a fresh index). One Accumulator serves exactly one
// turn and is not safe for concurrent use — a turn is a single cooperative
// sequence.
type Accumulator struct {
	pending map[int]*PendingToolCall
}

// NewAccumulator returns an empty per-turn accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{pending: map[int]*PendingToolCall{}}
}

// Add folds one streamed delta into the accumulator. ID and Name stick from
// the first fragment that carries them; argument text appends in arrival
// order.
func (a *Accumulator) Add(delta chat.ToolCallDelta) {
	entry := a.pending[delta.Index]
	if entry == nil {
		entry = &PendingToolCall{}
		a.pending[delta.Index] = entry
	}
	if delta.ID != "" {
		entry.ID = delta.ID
	}
	if delta.Name != "" {
		entry.Name = delta.Name
	}
	if delta.Arguments != "" {
		entry.fragments = append(entry.fragments, delta.Arguments)
	}
}

// Len reports how many calls are pending.
func (a *Accumulator) Len() int {
	return len(a.pending)
}

// Flush concatenates and parses every pending call, returning complete calls
// with their parsed argument objects in index order. Parsing happens only
// here, once the backend has signalled completion; a call whose concatenated
// arguments still fail to parse is a malformed stream. The accumulator is
// reset regardless of outcome.
func (a *Accumulator) Flush() ([]types.ToolCall, []map[string]any, error) {
	if len(a.pending) == 0 {
		return nil, nil, nil
	}
	keys := make([]int, 0, len(a.pending))
	for idx := range a.pending {
		keys = append(keys, idx)
	}
	sort.Ints(keys)

	calls := make([]types.ToolCall, 0, len(keys))
	args := make([]map[string]any, 0, len(keys))
	for _, idx := range keys {
		entry := a.pending[idx]
		raw := entry.Arguments()
		parsed := map[string]any{}
		if strings.TrimSpace(raw) != "" {
			if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
				a.pending = map[int]*PendingToolCall{}
				return nil, nil, fmt.Errorf("toolbridge: arguments for call %q: %w", entry.Name, err)
			}
		} else {
			raw = "{}"
		}
		calls = append(calls, types.ToolCall{
			ID:        entry.ID,
			Name:      entry.Name,
			Arguments: raw,
		})
		args = append(args, parsed)
	}
	a.pending = map[int]*PendingToolCall{}
	return calls, args, nil
}

// Discard drops all pending calls. Used on cancellation so that a call in
// flight is never partially executed.
func (a *Accumulator) Discard() {
	a.pending = map[int]*PendingToolCall{}
}

// ResultPayload shapes an executed tool's outcome into the JSON object fed
// back to the model. Executor failures become an error payload rather than
// aborting the turn.
func ResultPayload(r chat.ToolResult) map[string]any {
	if r.Err != "" {
		return map[string]any{"error": r.Err}
	}
	if r.Payload == nil {
		return map[string]any{}
	}
	return r.Payload
}
