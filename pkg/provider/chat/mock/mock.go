// Package mock provides test doubles for the chat.Adapter and chat.Session
// interfaces.
//
// Use Adapter in unit tests to verify selection and session-open behavior
// and to feed controlled chunk streams without a live backend. All fields are
// safe to set before calling any method; mutating them during a concurrent
// call is the caller's responsibility.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/wovenai/loom/pkg/provider/chat"
	"github.com/wovenai/loom/pkg/types"
)

// Compile-time interface assertions.
var (
	_ chat.Adapter = (*Adapter)(nil)
	_ chat.Session = (*Session)(nil)
)

// OpenSessionCall records a single invocation of OpenSession.
type OpenSessionCall struct {
	Ctx context.Context
	Cfg chat.SessionConfig
}

// Adapter is a mock implementation of chat.Adapter. Zero values for response
// fields cause methods to return zero values; set Err fields to inject
// errors.
type Adapter struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ProviderName is returned by Name.
	ProviderName string

	// Caps is returned by Capabilities.
	Caps chat.Capabilities

	// SessionToOpen is returned by OpenSession. When nil, a fresh empty
	// Session bound to ProviderName is returned.
	SessionToOpen *Session

	// OpenErr, if non-nil, is returned as the error from OpenSession.
	OpenErr error

	// Models is returned by ListModels.
	Models []types.ModelInfo

	// Health is returned by CheckHealth, with Provider filled in when empty.
	Health chat.HealthRecord

	// --- Call records (read after test) ---

	// OpenSessionCalls records every invocation of OpenSession in order.
	OpenSessionCalls []OpenSessionCall

	// ListModelsCalls counts invocations of ListModels.
	ListModelsCalls int

	// CheckHealthCalls counts invocations of CheckHealth.
	CheckHealthCalls int
}

// Name implements chat.Adapter.
func (a *Adapter) Name() string { return a.ProviderName }

// Capabilities implements chat.Adapter.
func (a *Adapter) Capabilities() chat.Capabilities { return a.Caps }

// OpenSession implements chat.Adapter.
func (a *Adapter) OpenSession(ctx context.Context, cfg chat.SessionConfig) (chat.Session, error) {
	a.mu.Lock()
	a.OpenSessionCalls = append(a.OpenSessionCalls, OpenSessionCall{Ctx: ctx, Cfg: cfg})
	a.mu.Unlock()
	if a.OpenErr != nil {
		return nil, a.OpenErr
	}
	if a.SessionToOpen != nil {
		return a.SessionToOpen, nil
	}
	return &Session{ProviderName: a.ProviderName, ModelName: cfg.Model}, nil
}

// ListModels implements chat.Adapter.
func (a *Adapter) ListModels(context.Context) []types.ModelInfo {
	a.mu.Lock()
	a.ListModelsCalls++
	a.mu.Unlock()
	return a.Models
}

// CheckHealth implements chat.Adapter.
func (a *Adapter) CheckHealth(context.Context) chat.HealthRecord {
	a.mu.Lock()
	a.CheckHealthCalls++
	a.mu.Unlock()
	rec := a.Health
	if rec.Provider == "" {
		rec.Provider = a.ProviderName
	}
	if rec.CheckedAt.IsZero() {
		rec.CheckedAt = time.Now()
	}
	return rec
}

// SendCall records a single invocation of Send.
type SendCall struct {
	Ctx  context.Context
	Text string
}

// ContinueCall records a single invocation of Continue.
type ContinueCall struct {
	Ctx     context.Context
	Results []chat.ToolResult
}

// Session is a mock implementation of chat.Session. Each call to Send or
// Continue emits the next element of Turns on a fresh channel; when Turns is
// exhausted, an empty closed channel is returned.
type Session struct {
	mu sync.Mutex

	// ProviderName is returned by Provider.
	ProviderName string

	// ModelName is returned by Model.
	ModelName string

	// Turns holds one chunk sequence per expected turn, consumed in order.
	Turns [][]chat.Chunk

	// SendErr, if non-nil, is returned as the error from Send.
	SendErr error

	// ContinueErr, if non-nil, is returned as the error from Continue.
	ContinueErr error

	// Messages is returned by History.
	Messages []types.Message

	// --- Call records (read after test) ---

	// SendCalls records every invocation of Send in order.
	SendCalls []SendCall

	// ContinueCalls records every invocation of Continue in order.
	ContinueCalls []ContinueCall

	// Closed reports whether Close was called.
	Closed bool

	turn int
}

// Provider implements chat.Session.
func (s *Session) Provider() string { return s.ProviderName }

// Model implements chat.Session.
func (s *Session) Model() string { return s.ModelName }

// Send implements chat.Session.
func (s *Session) Send(ctx context.Context, text string) (<-chan chat.Chunk, error) {
	s.mu.Lock()
	s.SendCalls = append(s.SendCalls, SendCall{Ctx: ctx, Text: text})
	s.mu.Unlock()
	if s.SendErr != nil {
		return nil, s.SendErr
	}
	return s.nextTurn(), nil
}

// Continue implements chat.Session.
func (s *Session) Continue(ctx context.Context, results []chat.ToolResult) (<-chan chat.Chunk, error) {
	s.mu.Lock()
	s.ContinueCalls = append(s.ContinueCalls, ContinueCall{Ctx: ctx, Results: results})
	s.mu.Unlock()
	if s.ContinueErr != nil {
		return nil, s.ContinueErr
	}
	return s.nextTurn(), nil
}

// History implements chat.Session.
func (s *Session) History() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Close implements chat.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}

// nextTurn emits the next configured chunk sequence on a closed channel.
func (s *Session) nextTurn() <-chan chat.Chunk {
	s.mu.Lock()
	var chunks []chat.Chunk
	if s.turn < len(s.Turns) {
		chunks = s.Turns[s.turn]
		s.turn++
	}
	s.mu.Unlock()

	ch := make(chan chat.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}
