package conversation_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wovenai/loom/internal/conversation"
	"github.com/wovenai/loom/pkg/provider/chat"
	"github.com/wovenai/loom/pkg/provider/chat/mock"
)

func collect(t *testing.T, events <-chan chat.Event) []chat.Event {
	t.Helper()
	var out []chat.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []chat.Event) []chat.EventType {
	out := make([]chat.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestTurn_PlainCompletion(t *testing.T) {
	t.Parallel()
	session := &mock.Session{
		ProviderName: "compat-a",
		Turns: [][]chat.Chunk{{
			{Text: "hi "},
			{Text: "there"},
			{FinishReason: chat.FinishStop},
		}},
	}
	conv := conversation.New(session, chat.Capabilities{ReasoningChannel: true})

	events := collect(t, conv.Turn(context.Background(), "hello"))
	if len(events) != 3 {
		t.Fatalf("events = %v, want content, content, completed", eventTypes(events))
	}
	if events[2].Type != chat.EventCompleted {
		t.Errorf("final = %+v, want Completed", events[2])
	}
	if len(session.SendCalls) != 1 || session.SendCalls[0].Text != "hello" {
		t.Errorf("send calls = %+v, want the user text", session.SendCalls)
	}
}

func TestTurn_ToolRoundTrip(t *testing.T) {
	t.Parallel()
	session := &mock.Session{
		ProviderName: "compat-a",
		Turns: [][]chat.Chunk{
			{
				{ToolCalls: []chat.ToolCallDelta{{Index: 0, ID: "c1", Name: "get_weather", Arguments: `{"location":"Berlin"}`}}},
				{FinishReason: chat.FinishToolCalls},
			},
			{
				{Text: "It is 21°C in Berlin."},
				{FinishReason: chat.FinishStop},
			},
		},
	}

	var executed []string
	exec := conversation.ExecutorFunc(func(_ context.Context, name string, args map[string]any) (map[string]any, error) {
		executed = append(executed, name)
		if args["location"] != "Berlin" {
			t.Errorf("args = %v, want parsed location", args)
		}
		return map[string]any{"temp_c": 21}, nil
	})

	conv := conversation.New(session, chat.Capabilities{ReasoningChannel: true},
		conversation.WithExecutor(exec))

	events := collect(t, conv.Turn(context.Background(), "weather in berlin?"))

	want := []chat.EventType{chat.EventToolCall, chat.EventToolResult, chat.EventContent, chat.EventCompleted}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event sequence = %v, want %v", got, want)
		}
	}

	if len(executed) != 1 || executed[0] != "get_weather" {
		t.Errorf("executed = %v, want one get_weather call", executed)
	}
	if len(session.ContinueCalls) != 1 {
		t.Fatalf("continue calls = %d, want 1", len(session.ContinueCalls))
	}
	res := session.ContinueCalls[0].Results
	if len(res) != 1 || res[0].ID != "c1" || res[0].Payload["temp_c"] != 21 {
		t.Errorf("results = %+v, want the executor payload keyed to call c1", res)
	}
}

func TestTurn_ExecutorFailureFedBackAsErrorPayload(t *testing.T) {
	t.Parallel()
	session := &mock.Session{
		ProviderName: "compat-a",
		Turns: [][]chat.Chunk{
			{
				{ToolCalls: []chat.ToolCallDelta{{Index: 0, ID: "c1", Name: "lookup", Arguments: "{}"}}},
				{FinishReason: chat.FinishToolCalls},
			},
			{
				{Text: "The lookup failed, sorry."},
				{FinishReason: chat.FinishStop},
			},
		},
	}
	exec := conversation.ExecutorFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, errors.New("upstream 500")
	})
	conv := conversation.New(session, chat.Capabilities{ReasoningChannel: true},
		conversation.WithExecutor(exec))

	events := collect(t, conv.Turn(context.Background(), "look it up"))

	// The executor failure is absorbed into the exchange, not terminal.
	final := events[len(events)-1]
	if final.Type != chat.EventCompleted {
		t.Fatalf("final = %+v, want Completed despite tool failure", final)
	}
	var resultEv *chat.Event
	for i := range events {
		if events[i].Type == chat.EventToolResult {
			resultEv = &events[i]
		}
	}
	if resultEv == nil || resultEv.Result.Err != "upstream 500" {
		t.Fatalf("events = %+v, want a ToolResult carrying the failure", events)
	}
	if len(session.ContinueCalls) != 1 || session.ContinueCalls[0].Results[0].Err != "upstream 500" {
		t.Errorf("continue results = %+v, want the error forwarded", session.ContinueCalls)
	}
}

func TestTurn_NoExecutorConfigured(t *testing.T) {
	t.Parallel()
	session := &mock.Session{
		ProviderName: "compat-a",
		Turns: [][]chat.Chunk{{
			{ToolCalls: []chat.ToolCallDelta{{Index: 0, ID: "c1", Name: "x", Arguments: "{}"}}},
			{FinishReason: chat.FinishToolCalls},
		}},
	}
	conv := conversation.New(session, chat.Capabilities{ReasoningChannel: true})

	events := collect(t, conv.Turn(context.Background(), "hi"))
	final := events[len(events)-1]
	if final.Type != chat.EventError || final.ErrKind != chat.ErrKindInternal {
		t.Fatalf("final = %+v, want internal error", final)
	}
	if !strings.Contains(final.Err, "executor") {
		t.Errorf("error = %q, should mention the missing executor", final.Err)
	}
}

func TestTurn_ToolRoundLimit(t *testing.T) {
	t.Parallel()
	// Every round requests another tool call; the conversation must bail out
	// at the configured limit instead of looping forever.
	round := []chat.Chunk{
		{ToolCalls: []chat.ToolCallDelta{{Index: 0, ID: "c", Name: "again", Arguments: "{}"}}},
		{FinishReason: chat.FinishToolCalls},
	}
	session := &mock.Session{
		ProviderName: "compat-a",
		Turns:        [][]chat.Chunk{round, round, round, round},
	}
	exec := conversation.ExecutorFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	conv := conversation.New(session, chat.Capabilities{ReasoningChannel: true},
		conversation.WithExecutor(exec),
		conversation.WithMaxToolRounds(2))

	events := collect(t, conv.Turn(context.Background(), "go"))
	final := events[len(events)-1]
	if final.Type != chat.EventError || final.ErrKind != chat.ErrKindInternal {
		t.Fatalf("final = %+v, want internal error at round limit", final)
	}
	if len(session.ContinueCalls) != 2 {
		t.Errorf("continue calls = %d, want exactly the limit", len(session.ContinueCalls))
	}
}

// holdingSession keeps the turn's chunk channel open so a turn stays
// in flight until the caller cancels.
type holdingSession struct {
	mock.Session
	chunks chan chat.Chunk
}

func (s *holdingSession) Send(ctx context.Context, text string) (<-chan chat.Chunk, error) {
	return s.chunks, nil
}

func TestTurn_CancellationEmitsTerminalEvent(t *testing.T) {
	t.Parallel()
	session := &holdingSession{chunks: make(chan chat.Chunk, 1)}
	session.ProviderName = "compat-a"
	session.chunks <- chat.Chunk{Text: "partial"}

	conv := conversation.New(session, chat.Capabilities{ReasoningChannel: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := conv.Turn(ctx, "tell me everything")
	first, ok := <-events
	if !ok || first.Type != chat.EventContent || first.Text != "partial" {
		t.Fatalf("first event = %+v, want streamed content", first)
	}
	cancel()

	var rest []chat.Event
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-events:
			if !ok {
				done = true
				break
			}
			rest = append(rest, ev)
		case <-timeout:
			t.Fatal("turn did not terminate after cancellation")
		}
	}

	// The channel must close with exactly one terminal Error(Cancelled),
	// never silently.
	if len(rest) == 0 {
		t.Fatal("turn closed without a terminal event")
	}
	terminal := rest[len(rest)-1]
	if terminal.Type != chat.EventError || terminal.ErrKind != chat.ErrKindCancelled {
		t.Fatalf("terminal event = %+v, want Error(cancelled)", terminal)
	}
	for _, ev := range rest[:len(rest)-1] {
		if ev.Type == chat.EventError || ev.Type == chat.EventCompleted {
			t.Errorf("extra terminal event before the last: %+v", ev)
		}
	}
}

func TestTurn_SendFailure(t *testing.T) {
	t.Parallel()
	session := &mock.Session{
		ProviderName: "compat-a",
		SendErr:      errors.New("dial tcp: connection refused"),
	}
	conv := conversation.New(session, chat.Capabilities{ReasoningChannel: true})

	events := collect(t, conv.Turn(context.Background(), "hi"))
	if len(events) != 1 {
		t.Fatalf("events = %+v, want a single error", events)
	}
	if events[0].Type != chat.EventError || events[0].ErrKind != chat.ErrKindConnection {
		t.Errorf("event = %+v, want connection error", events[0])
	}
}

func TestTurn_InlineReasoningCapability(t *testing.T) {
	t.Parallel()
	session := &mock.Session{
		ProviderName: "llamacpp",
		Turns: [][]chat.Chunk{{
			{Text: "<think>hmm</think>four"},
			{FinishReason: chat.FinishStop},
		}},
	}
	// ReasoningChannel false selects the inline-tag extraction path.
	conv := conversation.New(session, chat.Capabilities{})

	events := collect(t, conv.Turn(context.Background(), "2+2?"))
	var sawThought bool
	for _, ev := range events {
		if ev.Type == chat.EventThought && ev.Text == "hmm" {
			sawThought = true
		}
		if ev.Type == chat.EventContent && strings.Contains(ev.Text, "think") {
			t.Errorf("tag leaked into content: %+v", ev)
		}
	}
	if !sawThought {
		t.Errorf("events = %+v, want an isolated thought", events)
	}
}
