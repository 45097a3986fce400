package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/llm"
	mocks "pkdindustries/chatbridge/internal/testing"
	"pkdindustries/chatbridge/internal/tools"
	"pkdindustries/chatbridge/internal/updates"
)

func userTurn(text string) []llm.ChatMessage {
	return []llm.ChatMessage{{Role: llm.RoleUser, Content: text}}
}

func opts() llm.GenerationOptions {
	return llm.GenerationOptions{"model": "mock-1"}
}

func TestOrchestrator_SingleRoundWithoutTools(t *testing.T) {
	dialect := &mocks.MockDialect{Replies: []*llm.Reply{{Content: "hello"}}}
	o := llm.NewOrchestrator(dialect, llm.WithLogger(core.Nop()))
	em := updates.New()

	res, err := o.RequestChatCompletion(context.Background(), userTurn("hi"), opts(), llm.RequestOptions{Updates: em})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dialect.Requests() != 1 {
		t.Errorf("expected 1 request, got %d", dialect.Requests())
	}
	if res.Message.Role != llm.RoleAssistant || res.Message.Content != "hello" {
		t.Errorf("unexpected message: %+v", res.Message)
	}
	if dialect.Turns[0].Tools != nil || dialect.Turns[0].ToolChoice != "" {
		t.Errorf("tools should not be advertised when none are configured: %+v", dialect.Turns[0])
	}

	want := []string{"Formatting messages...", "Requesting completion from Mock..."}
	if diff := cmp.Diff(want, em.Updates()); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestOrchestrator_DepthBound(t *testing.T) {
	loop := &llm.Reply{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{}}}}
	dialect := &mocks.MockDialect{Replies: []*llm.Reply{loop}}
	echo := &mocks.MockTool{Name: "echo"}
	o := llm.NewOrchestrator(dialect, llm.WithTools(tools.Set{echo}), llm.WithLogger(core.Nop()))

	res, err := o.RequestChatCompletion(context.Background(), userTurn("loop forever"), opts(), llm.RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := dialect.Requests(); got != llm.DefaultDepth+1 {
		t.Fatalf("expected %d requests, got %d", llm.DefaultDepth+1, got)
	}
	if echo.CallCount() != llm.DefaultDepth {
		t.Errorf("expected %d tool executions, got %d", llm.DefaultDepth, echo.CallCount())
	}
	for i, turn := range dialect.Turns {
		want := llm.ToolChoiceAuto
		if i == llm.DefaultDepth {
			want = llm.ToolChoiceNone
		}
		if turn.ToolChoice != want {
			t.Errorf("round %d: tool choice %q, want %q", i, turn.ToolChoice, want)
		}
	}
	if res.Message.Content != "" {
		t.Errorf("expected empty content from final round, got %q", res.Message.Content)
	}
}

func TestOrchestrator_UnknownToolSkipped(t *testing.T) {
	dialect := &mocks.MockDialect{Replies: []*llm.Reply{
		{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "ghost"},
			{ID: "c2", Name: "echo", Arguments: map[string]any{"x": 1.0}},
		}},
		{Content: "done"},
	}}
	echo := &mocks.MockTool{Name: "echo"}
	em := updates.New()
	o := llm.NewOrchestrator(dialect, llm.WithTools(tools.Set{echo}), llm.WithLogger(core.Nop()))

	res, err := o.RequestChatCompletion(context.Background(), userTurn("go"), opts(), llm.RequestOptions{Updates: em})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message.Content != "done" {
		t.Errorf("unexpected content %q", res.Message.Content)
	}
	if echo.CallCount() != 1 {
		t.Errorf("echo should run once, ran %d times", echo.CallCount())
	}
	for _, u := range em.Updates() {
		if strings.Contains(u, "ghost") {
			t.Errorf("unknown tool must not produce progress, got %q", u)
		}
	}

	results := dialect.Conv.Results[0]
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].IsError || results[0].CallID != "c1" {
		t.Errorf("unknown tool should be marked unavailable: %+v", results[0])
	}
	if results[1].IsError || results[1].Content != "ok" || results[1].CallID != "c2" {
		t.Errorf("unexpected echo result: %+v", results[1])
	}
}

func TestOrchestrator_ToolErrorsAreIsolated(t *testing.T) {
	dialect := &mocks.MockDialect{Replies: []*llm.Reply{
		{ToolCalls: []llm.ToolCall{
			{ID: "a", Name: "broken"},
			{ID: "b", Name: "panics"},
			{ID: "c", Name: "echo", ArgumentsErr: errors.New("unexpected EOF")},
			{ID: "d", Name: "echo"},
		}},
		{Content: "recovered"},
	}}
	broken := &mocks.MockTool{Name: "broken", Handler: func(context.Context, map[string]any) (*tools.Response, error) {
		return nil, errors.New("upstream down")
	}}
	panics := &mocks.MockTool{Name: "panics", Handler: func(context.Context, map[string]any) (*tools.Response, error) {
		panic("boom")
	}}
	echo := &mocks.MockTool{Name: "echo"}
	o := llm.NewOrchestrator(dialect, llm.WithTools(tools.Set{broken, panics, echo}), llm.WithLogger(core.Nop()))

	res, err := o.RequestChatCompletion(context.Background(), userTurn("go"), opts(), llm.RequestOptions{})
	if err != nil {
		t.Fatalf("tool failures must not fail the request: %v", err)
	}
	if res.Message.Content != "recovered" {
		t.Errorf("unexpected content %q", res.Message.Content)
	}

	got := dialect.Conv.Results[0]
	ids := []string{got[0].CallID, got[1].CallID, got[2].CallID, got[3].CallID}
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, ids); diff != "" {
		t.Errorf("results out of order (-want +got):\n%s", diff)
	}
	if !got[0].IsError || !strings.Contains(got[0].Content, "upstream down") {
		t.Errorf("error not captured: %+v", got[0])
	}
	if !got[1].IsError || !strings.Contains(got[1].Content, "panic: boom") {
		t.Errorf("panic not captured: %+v", got[1])
	}
	if !got[2].IsError || !strings.HasPrefix(got[2].Content, "Error parsing arguments") {
		t.Errorf("bad arguments not captured: %+v", got[2])
	}
	if got[3].IsError {
		t.Errorf("healthy tool marked as error: %+v", got[3])
	}
	if echo.CallCount() != 1 {
		t.Errorf("echo should only run for the well-formed call, ran %d", echo.CallCount())
	}
}

func TestOrchestrator_AccumulatesAndResolvesAttachments(t *testing.T) {
	dialect := &mocks.MockDialect{Replies: []*llm.Reply{
		{Attachments: []string{"https://img/1.png"}, ToolCalls: []llm.ToolCall{{ID: "1", Name: "draw"}}},
		{ToolCalls: []llm.ToolCall{{ID: "2", Name: "draw"}}},
		{Content: "here you go"},
	}}
	n := 0
	draw := &mocks.MockTool{Name: "draw", Handler: func(context.Context, map[string]any) (*tools.Response, error) {
		n++
		if n == 1 {
			return &tools.Response{Result: "drawn", Attachments: []string{"data:image/png;base64,AA=="}}, nil
		}
		return &tools.Response{Result: "linked", Attachments: []string{"resource://notes/today"}}, nil
	}}
	resolver := &mocks.MockResolver{Table: map[string]string{"resource://notes/today": "data:text/plain;base64,bm90ZXM="}}
	o := llm.NewOrchestrator(dialect,
		llm.WithTools(tools.Set{draw}),
		llm.WithResolver(resolver),
		llm.WithLogger(core.Nop()),
	)

	res, err := o.RequestChatCompletion(context.Background(), userTurn("draw"), opts(), llm.RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		"https://img/1.png",
		"data:image/png;base64,AA==",
		"data:text/plain;base64,bm90ZXM=",
	}
	if diff := cmp.Diff(want, res.Attachments); diff != "" {
		t.Errorf("attachments mismatch (-want +got):\n%s", diff)
	}
}

func TestOrchestrator_ModerationRejects(t *testing.T) {
	dialect := &mocks.MockDialect{Replies: []*llm.Reply{{Content: "never"}}}
	mod := &mocks.MockModerator{Err: llm.ErrModerationRejected}
	o := llm.NewOrchestrator(dialect, llm.WithModerator(mod), llm.WithLogger(core.Nop()))

	_, err := o.RequestChatCompletion(context.Background(), userTurn("bad words"), opts(), llm.RequestOptions{})
	if !errors.Is(err, llm.ErrModerationRejected) {
		t.Fatalf("expected moderation rejection, got %v", err)
	}
	if dialect.Requests() != 0 {
		t.Errorf("no completion should be requested after rejection")
	}

	assistantLast := []llm.ChatMessage{{Role: llm.RoleUser, Content: "x"}, {Role: llm.RoleAssistant, Content: "y"}}
	if _, err := o.RequestChatCompletion(context.Background(), assistantLast, opts(), llm.RequestOptions{}); err != nil {
		t.Errorf("non-user last turn should pass moderation: %v", err)
	}
}

func TestOrchestrator_ProviderErrorIsFatal(t *testing.T) {
	perr := llm.NewProviderError("Mock", "empty response", map[string]any{"choices": []any{}}, nil)
	dialect := &mocks.MockDialect{Error: perr}
	o := llm.NewOrchestrator(dialect, llm.WithLogger(core.Nop()))

	_, err := o.RequestChatCompletion(context.Background(), userTurn("hi"), opts(), llm.RequestOptions{})
	var got *llm.ProviderError
	if !errors.As(err, &got) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if strings.Contains(got.Error(), "choices") {
		t.Errorf("raw payload leaked into error text: %q", got.Error())
	}
}

func TestOrchestrator_DoesNotMutateInput(t *testing.T) {
	dialect := &mocks.MockDialect{Replies: []*llm.Reply{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: "echo"}}},
		{Content: "ok"},
	}}
	o := llm.NewOrchestrator(dialect, llm.WithTools(tools.Set{&mocks.MockTool{Name: "echo"}}), llm.WithLogger(core.Nop()))
	in := []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "hi", Attachments: []string{"https://x/y.png"}},
	}
	snapshot := append([]llm.ChatMessage(nil), in...)

	if _, err := o.RequestChatCompletion(context.Background(), in, opts(), llm.RequestOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(snapshot, in); diff != "" {
		t.Errorf("input mutated (-want +got):\n%s", diff)
	}
}
