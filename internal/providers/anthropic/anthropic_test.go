package anthropic_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/llm"
	"pkdindustries/chatbridge/internal/media"
	"pkdindustries/chatbridge/internal/providers/anthropic"
	mocks "pkdindustries/chatbridge/internal/testing"
	"pkdindustries/chatbridge/internal/tools"
)

const (
	toolUseReply = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":"let me check"},{"type":"tool_use","id":"tu_1","name":"echo","input":{"text":"hi"}}],
		"stop_reason":"tool_use","usage":{"input_tokens":3,"output_tokens":5}}`
	textReply = `{"id":"msg_2","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":"done"}],
		"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":1}}`
)

type recorder struct {
	mu       sync.Mutex
	requests []map[string]any
}

func (r *recorder) server(t *testing.T, replies ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		r.mu.Lock()
		n := len(r.requests)
		r.requests = append(r.requests, body)
		r.mu.Unlock()
		if n >= len(replies) {
			n = len(replies) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(replies[n]))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newDialect(url string) *anthropic.Dialect {
	return anthropic.New(anthropic.Config{
		URL:     url,
		APIKey:  "test-key",
		Logger:  core.Nop(),
		Options: []option.RequestOption{option.WithMaxRetries(0)},
	})
}

func TestDialect_ToolRoundTrip(t *testing.T) {
	rec := &recorder{}
	srv := rec.server(t, toolUseReply, textReply)

	echo := &mocks.MockTool{Name: "echo", Handler: func(_ context.Context, args map[string]any) (*tools.Response, error) {
		return &tools.Response{Result: "echo:" + args["text"].(string)}, nil
	}}
	o := llm.NewOrchestrator(newDialect(srv.URL), llm.WithTools(tools.Set{echo}), llm.WithLogger(core.Nop()))

	res, err := o.RequestChatCompletion(context.Background(), []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "be terse"},
		{Role: llm.RoleUser, Content: "echo hi"},
	}, llm.GenerationOptions{"model": "claude-test", "temperature": 0.5}, llm.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Message.Content)
	assert.Equal(t, 1, echo.CallCount())

	require.Len(t, rec.requests, 2)
	first := rec.requests[0]
	assert.Equal(t, "claude-test", first["model"])
	assert.Equal(t, float64(anthropic.DefaultMaxTokens), first["max_tokens"])
	assert.Equal(t, 0.5, first["temperature"])
	assert.Equal(t, []any{map[string]any{"type": "text", "text": "be terse"}}, first["system"])
	assert.Equal(t, map[string]any{"type": "auto"}, first["tool_choice"])

	msgs := rec.requests[1]["messages"].([]any)
	require.Len(t, msgs, 3)
	assistant := msgs[1].(map[string]any)
	assert.Equal(t, "assistant", assistant["role"])
	blocks := assistant["content"].([]any)
	assert.Equal(t, "tool_use", blocks[1].(map[string]any)["type"])

	results := msgs[2].(map[string]any)
	assert.Equal(t, "user", results["role"])
	result := results["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", result["type"])
	assert.Equal(t, "tu_1", result["tool_use_id"])
}

func TestDialect_RejectsUnsupportedAttachment(t *testing.T) {
	d := newDialect("http://unused.invalid")
	_, err := d.Format(context.Background(), []llm.ChatMessage{{
		Role:        llm.RoleUser,
		Content:     "look",
		Attachments: []string{media.Encode("text/plain", []byte("hello"))},
	}})
	assert.True(t, errors.Is(err, media.ErrInvalidMediaType))
}

func TestDialect_InlinesImages(t *testing.T) {
	rec := &recorder{}
	srv := rec.server(t, textReply)
	d := newDialect(srv.URL)

	conv, err := d.Format(context.Background(), []llm.ChatMessage{{
		Role:        llm.RoleUser,
		Content:     "look",
		Attachments: []string{media.Encode("image/png", []byte{0x89, 'P', 'N', 'G'})},
	}})
	require.NoError(t, err)
	_, err = d.Complete(context.Background(), conv, llm.Turn{Options: llm.GenerationOptions{"model": "claude-test"}})
	require.NoError(t, err)

	user := rec.requests[0]["messages"].([]any)[0].(map[string]any)
	blocks := user["content"].([]any)
	require.Len(t, blocks, 2)
	image := blocks[0].(map[string]any)
	assert.Equal(t, "image", image["type"])
	assert.Equal(t, "image/png", image["source"].(map[string]any)["media_type"])
	assert.Equal(t, "text", blocks[1].(map[string]any)["type"])
}

func TestDialect_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"nope"}}`))
	}))
	defer srv.Close()

	d := newDialect(srv.URL)
	conv, err := d.Format(context.Background(), []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	_, err = d.Complete(context.Background(), conv, llm.Turn{Options: llm.GenerationOptions{"model": "claude-test"}})

	var perr *llm.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "Anthropic", perr.Provider)
}
