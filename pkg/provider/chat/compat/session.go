package compat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/wovenai/loom/internal/toolbridge"
	"github.com/wovenai/loom/pkg/provider/chat"
	"github.com/wovenai/loom/pkg/types"
)

// Compile-time interface assertion.
var _ chat.Session = (*session)(nil)

// session is a bound conversation against one OpenAI-compatible backend.
type session struct {
	adapter *Adapter
	model   string
	system  string
	tools   []types.ToolDefinition

	mu      sync.Mutex
	history []types.Message
}

func (s *session) Provider() string { return s.adapter.strategy.Name }
func (s *session) Model() string    { return s.model }

// History implements chat.Session.
func (s *session) History() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Close implements chat.Session.
func (s *session) Close() error { return nil }

// Send implements chat.Session.
func (s *session) Send(ctx context.Context, text string) (<-chan chat.Chunk, error) {
	s.append(types.Message{Role: "user", Content: text})
	return s.stream(ctx)
}

// Continue implements chat.Session. Tool results become "tool"-role messages
// correlated by call ID, appended before the follow-up request.
func (s *session) Continue(ctx context.Context, results []chat.ToolResult) (<-chan chat.Chunk, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("compat: continue requires at least one tool result")
	}
	for _, r := range results {
		payload, err := json.Marshal(toolbridge.ResultPayload(r))
		if err != nil {
			payload = []byte(`{"error":"unserializable tool result"}`)
		}
		s.append(types.Message{
			Role:       "tool",
			ToolCallID: r.ID,
			ToolName:   r.Name,
			Content:    string(payload),
		})
	}
	return s.stream(ctx)
}

func (s *session) append(m types.Message) {
	s.mu.Lock()
	s.history = append(s.history, m)
	s.mu.Unlock()
}

// stream issues one turn through the SDK's streaming API and forwards deltas
// as raw chunks.
func (s *session) stream(ctx context.Context) (<-chan chat.Chunk, error) {
	params, err := s.buildParams()
	if err != nil {
		return nil, fmt.Errorf("compat: build params: %w", err)
	}

	sdkStream := s.adapter.client.Chat.Completions.NewStreaming(ctx, params)
	if err := sdkStream.Err(); err != nil {
		return nil, fmt.Errorf("%w: start stream: %v", chat.ErrConnection, err)
	}

	ch := make(chan chat.Chunk, 32)
	go func() {
		defer close(ch)
		defer sdkStream.Close()

		send := func(c chat.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			text      string
			reasoning string
			finish    string
			usage     *chat.Usage
			// Accumulated tool calls keyed by stream index, for history.
			callAccum = map[int]*types.ToolCall{}
			callOrder []int
		)

		for sdkStream.Next() {
			sdkChunk := sdkStream.Current()
			if sdkChunk.Usage.TotalTokens > 0 {
				usage = &chat.Usage{
					PromptTokens:     int(sdkChunk.Usage.PromptTokens),
					CompletionTokens: int(sdkChunk.Usage.CompletionTokens),
					TotalTokens:      int(sdkChunk.Usage.TotalTokens),
				}
			}
			if len(sdkChunk.Choices) == 0 {
				continue
			}
			choice := sdkChunk.Choices[0]
			delta := choice.Delta

			out := chat.Chunk{Text: delta.Content}
			text += delta.Content

			// reasoning_content is a dialect extension the SDK does not
			// model; it is reachable through the raw extra-field JSON.
			if s.adapter.strategy.SupportsReasoning {
				if field, ok := delta.JSON.ExtraFields["reasoning_content"]; ok {
					var r string
					if err := json.Unmarshal([]byte(field.Raw()), &r); err == nil && r != "" {
						out.Reasoning = r
						reasoning += r
					}
				}
			}

			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				entry := callAccum[idx]
				if entry == nil {
					entry = &types.ToolCall{}
					callAccum[idx] = entry
					callOrder = append(callOrder, idx)
				}
				if tc.ID != "" {
					entry.ID = tc.ID
				}
				if tc.Function.Name != "" {
					entry.Name = tc.Function.Name
				}
				entry.Arguments += tc.Function.Arguments

				out.ToolCalls = append(out.ToolCalls, chat.ToolCallDelta{
					Index:     idx,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}

			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
			if out.Text != "" || out.Reasoning != "" || len(out.ToolCalls) > 0 {
				if !send(out) {
					return
				}
			}
		}

		if err := sdkStream.Err(); err != nil {
			send(chat.Chunk{FinishReason: chat.FinishError, Err: err})
			return
		}
		if ctx.Err() != nil {
			send(chat.Chunk{FinishReason: chat.FinishError, Err: ctx.Err()})
			return
		}

		msg := types.Message{Role: "assistant", Content: text, Reasoning: reasoning}
		for _, idx := range callOrder {
			msg.ToolCalls = append(msg.ToolCalls, *callAccum[idx])
		}
		s.append(msg)

		if finish == "" {
			finish = chat.FinishStop
		}
		send(chat.Chunk{FinishReason: finish, Usage: usage})
	}()

	return ch, nil
}

// buildParams renders the session state into SDK request params.
func (s *session) buildParams() (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if s.system != "" {
		messages = append(messages, oai.SystemMessage(s.system))
	}
	for _, m := range s.History() {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(s.model),
		Messages: messages,
		StreamOptions: oai.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}

	for _, td := range s.tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(toolbridge.ToCompatParameters(td.Parameters)),
			},
		})
	}
	return params, nil
}

// convertMessage converts a canonical message to an SDK message param.
func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil

	case "user":
		return oai.UserMessage(m.Content), nil

	case "assistant":
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case "tool":
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("compat: unknown message role %q", m.Role)
	}
}
