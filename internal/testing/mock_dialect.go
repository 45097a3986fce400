package testing

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkdindustries/chatbridge/internal/llm"
	"pkdindustries/chatbridge/internal/tools"
)

// MockConversation records everything the orchestrator appends.
type MockConversation struct {
	Messages []llm.ChatMessage
	Replies  []*llm.Reply
	Results  [][]llm.ToolResult
}

func (c *MockConversation) AppendReply(reply *llm.Reply) {
	c.Replies = append(c.Replies, reply)
}

func (c *MockConversation) AppendToolResults(results []llm.ToolResult) {
	c.Results = append(c.Results, results)
}

// MockDialect serves scripted replies in order. Once the script runs out it
// keeps returning the last reply.
type MockDialect struct {
	Replies   []*llm.Reply
	Delay     time.Duration
	Error     error
	FormatErr error

	mu    sync.Mutex
	Turns []llm.Turn
	Conv  *MockConversation
}

var _ llm.Dialect = (*MockDialect)(nil)

func (m *MockDialect) Name() string { return "Mock" }

func (m *MockDialect) Format(_ context.Context, messages []llm.ChatMessage) (llm.Conversation, error) {
	if m.FormatErr != nil {
		return nil, m.FormatErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Conv = &MockConversation{Messages: append([]llm.ChatMessage(nil), messages...)}
	return m.Conv, nil
}

func (m *MockDialect) Complete(ctx context.Context, _ llm.Conversation, turn llm.Turn) (*llm.Reply, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Turns = append(m.Turns, turn)
	if m.Error != nil {
		return nil, m.Error
	}
	if len(m.Replies) == 0 {
		return nil, errors.New("mock dialect has no replies")
	}
	i := len(m.Turns) - 1
	if i >= len(m.Replies) {
		i = len(m.Replies) - 1
	}
	r := *m.Replies[i]
	return &r, nil
}

// Requests returns how many completion rounds were made.
func (m *MockDialect) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Turns)
}

// MockTool is a tool whose behaviour is supplied by a function.
type MockTool struct {
	Name    string
	Handler func(ctx context.Context, args map[string]any) (*tools.Response, error)

	mu    sync.Mutex
	Calls []map[string]any
}

var _ tools.Tool = (*MockTool)(nil)

func (t *MockTool) Definition() tools.Definition {
	return tools.Definition{Name: t.Name, Description: "mock tool " + t.Name}
}

func (t *MockTool) HandleToolCall(ctx context.Context, args map[string]any) (*tools.Response, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, args)
	t.mu.Unlock()
	if t.Handler == nil {
		return &tools.Response{Result: "ok"}, nil
	}
	return t.Handler(ctx, args)
}

// CallCount returns how many times the tool ran.
func (t *MockTool) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// MockModerator returns Err for every user turn it sees.
type MockModerator struct {
	Err   error
	Calls int
}

func (m *MockModerator) Moderate(_ context.Context, msg llm.ChatMessage) error {
	m.Calls++
	if msg.Role != llm.RoleUser {
		return nil
	}
	return m.Err
}

// MockResolver maps deferred attachments through a fixed table.
type MockResolver struct {
	Table map[string]string
}

func (r *MockResolver) ResolveAttachments(_ context.Context, attachments []string) []string {
	out := make([]string, len(attachments))
	for i, a := range attachments {
		if v, ok := r.Table[a]; ok {
			out[i] = v
		} else {
			out[i] = a
		}
	}
	return out
}

// MockConnector is a canned llm.Connector. Progress lines are sent to the
// request's emitter before the result is returned.
type MockConnector struct {
	Result   *llm.ChatCompletionResult
	Err      error
	Progress []string

	mu       sync.Mutex
	Requests [][]llm.ChatMessage
	Options  []llm.GenerationOptions
}

var _ llm.Connector = (*MockConnector)(nil)

func (c *MockConnector) RequestChatCompletion(_ context.Context, messages []llm.ChatMessage, opts llm.GenerationOptions, reqOpts llm.RequestOptions) (*llm.ChatCompletionResult, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, append([]llm.ChatMessage(nil), messages...))
	c.Options = append(c.Options, opts)
	c.mu.Unlock()
	for _, p := range c.Progress {
		reqOpts.Updates.Send(p)
	}
	if c.Err != nil {
		return nil, c.Err
	}
	if c.Result == nil {
		return &llm.ChatCompletionResult{Message: llm.ChatMessage{Role: llm.RoleAssistant}}, nil
	}
	r := *c.Result
	return &r, nil
}

// Calls returns a copy of every transcript received.
func (c *MockConnector) Calls() [][]llm.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]llm.ChatMessage(nil), c.Requests...)
}
