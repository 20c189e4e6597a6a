package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wovenai/loom/internal/toolbridge"
	"github.com/wovenai/loom/pkg/provider/chat"
	"github.com/wovenai/loom/pkg/types"
)

// Compile-time interface assertion.
var _ chat.Session = (*session)(nil)

// session is a bound hosted conversation. The append-only history is kept in
// canonical form and rendered into the wire shape per turn.
type session struct {
	adapter *Adapter
	id      string
	model   string
	system  string
	tools   []toolbridge.HostedDeclaration

	mu      sync.Mutex
	history []types.Message
}

func (s *session) Provider() string { return s.adapter.name }
func (s *session) Model() string    { return s.model }

// History implements chat.Session.
func (s *session) History() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Close implements chat.Session. The hosted dialect is stateless per
// request, so there is nothing to release.
func (s *session) Close() error { return nil }

// Send implements chat.Session.
func (s *session) Send(ctx context.Context, text string) (<-chan chat.Chunk, error) {
	s.append(types.Message{Role: "user", Content: text})
	return s.stream(ctx)
}

// Continue implements chat.Session. Tool results are serialized into the
// dialect's functionResponse shape and appended to history before the
// follow-up request is issued.
func (s *session) Continue(ctx context.Context, results []chat.ToolResult) (<-chan chat.Chunk, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("hosted: continue requires at least one tool result")
	}
	for _, r := range results {
		s.append(types.Message{
			Role:       "tool",
			ToolCallID: r.ID,
			ToolName:   r.Name,
			Content:    encodePayload(toolbridge.ResultPayload(r)),
		})
	}
	return s.stream(ctx)
}

// append adds one message to the session history.
func (s *session) append(m types.Message) {
	s.mu.Lock()
	s.history = append(s.history, m)
	s.mu.Unlock()
}

// stream issues one turn and forwards the reply incrementally.
func (s *session) stream(ctx context.Context) (<-chan chat.Chunk, error) {
	payload := generateRequest{
		Contents: s.wireContents(),
	}
	if strings.TrimSpace(s.system) != "" {
		payload.SystemInstruction = &wireContent{Parts: []wirePart{{Text: s.system}}}
	}
	if len(s.tools) > 0 {
		payload.Tools = []wireTool{{FunctionDeclarations: s.tools}}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("hosted: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		s.adapter.baseURL, s.model, url.QueryEscape(s.adapter.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("hosted: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.adapter.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrConnection, err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, statusError(resp)
	}

	ch := make(chan chat.Chunk, 32)
	go s.receive(ctx, resp, ch)
	return ch, nil
}

// receive reads the SSE stream, forwarding chunks and accumulating the
// assistant message for history.
func (s *session) receive(ctx context.Context, resp *http.Response, ch chan<- chat.Chunk) {
	defer close(ch)
	defer resp.Body.Close()

	var (
		text      strings.Builder
		calls     []types.ToolCall
		usage     *chat.Usage
		finish    string
		nextIndex int
	)

	send := func(c chat.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	err := readSSE(resp.Body, func(data []byte) error {
		var out generateResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("hosted: decode chunk: %w", err)
		}
		if len(out.Candidates) == 0 {
			return nil
		}
		candidate := out.Candidates[0]

		chunk := chat.Chunk{}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				chunk.Text += part.Text
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					return fmt.Errorf("hosted: encode call args: %w", err)
				}
				// The dialect names calls but does not ID them; synthesize
				// an ID so result correlation is uniform across backends.
				call := types.ToolCall{
					ID:        uuid.NewString(),
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				}
				calls = append(calls, call)
				chunk.ToolCalls = append(chunk.ToolCalls, chat.ToolCallDelta{
					Index:     nextIndex,
					ID:        call.ID,
					Name:      call.Name,
					Arguments: call.Arguments,
				})
				nextIndex++
			}
		}
		if out.UsageMetadata.TotalTokenCount > 0 {
			usage = &chat.Usage{
				PromptTokens:     out.UsageMetadata.PromptTokenCount,
				CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      out.UsageMetadata.TotalTokenCount,
			}
		}
		if candidate.FinishReason != "" {
			finish = candidate.FinishReason
		}
		if chunk.Text != "" || len(chunk.ToolCalls) > 0 {
			if !send(chunk) {
				return errStopSSE
			}
		}
		return nil
	})
	if err != nil {
		send(chat.Chunk{FinishReason: chat.FinishError, Err: err})
		return
	}
	if ctx.Err() != nil {
		send(chat.Chunk{FinishReason: chat.FinishError, Err: ctx.Err()})
		return
	}

	s.append(types.Message{
		Role:      "assistant",
		Content:   text.String(),
		ToolCalls: calls,
	})
	send(chat.Chunk{
		FinishReason: mapFinish(finish, len(calls) > 0),
		Usage:        usage,
	})
}

// mapFinish normalizes the dialect's finish reasons. A natural stop with
// outstanding function calls means the model is waiting on tool results.
func mapFinish(reason string, hasCalls bool) string {
	switch strings.ToUpper(reason) {
	case "STOP", "":
		if hasCalls {
			return chat.FinishToolCalls
		}
		return chat.FinishStop
	case "MAX_TOKENS":
		return chat.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return chat.FinishContentFilter
	default:
		return strings.ToLower(reason)
	}
}

// wireContents renders the canonical history into the dialect's contents
// array. System text rides in systemInstruction, not here.
func (s *session) wireContents() []wireContent {
	s.mu.Lock()
	history := make([]types.Message, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	out := make([]wireContent, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case "user":
			out = append(out, wireContent{
				Role:  "user",
				Parts: []wirePart{{Text: m.Content}},
			})
		case "assistant":
			parts := make([]wirePart, 0, len(m.ToolCalls)+1)
			if strings.TrimSpace(m.Content) != "" {
				parts = append(parts, wirePart{Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				args := map[string]any{}
				if strings.TrimSpace(call.Arguments) != "" {
					// History always holds arguments that parsed once
					// already; a decode failure here means corruption, and
					// an empty object is the safest recovery.
					_ = json.Unmarshal([]byte(call.Arguments), &args)
				}
				parts = append(parts, wirePart{
					FunctionCall: &wireFunctionCall{Name: call.Name, Args: args},
				})
			}
			if len(parts) > 0 {
				out = append(out, wireContent{Role: "model", Parts: parts})
			}
		case "tool":
			response := map[string]any{}
			_ = json.Unmarshal([]byte(m.Content), &response)
			out = append(out, wireContent{
				Role: "user",
				Parts: []wirePart{{
					FunctionResponse: &wireFunctionResponse{
						Name:     m.ToolName,
						Response: response,
					},
				}},
			})
		}
	}
	return out
}

// encodePayload serializes a tool-result payload for history storage.
func encodePayload(payload map[string]any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return `{"error":"unserializable tool result"}`
	}
	return string(raw)
}

// ── Wire types ─────────────────────────────────────────────────────────────

type generateRequest struct {
	SystemInstruction *wireContent  `json:"systemInstruction,omitempty"`
	Contents          []wireContent `json:"contents"`
	Tools             []wireTool    `json:"tools,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text             string                `json:"text,omitempty"`
	FunctionCall     *wireFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResponse `json:"functionResponse,omitempty"`
}

type wireFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type wireFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type wireTool struct {
	FunctionDeclarations []toolbridge.HostedDeclaration `json:"functionDeclarations"`
}

type generateResponse struct {
	Candidates []struct {
		Content      wireContent `json:"content"`
		FinishReason string      `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}
