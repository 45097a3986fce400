package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/llm"
)

const openAIChat = "https://api.openai.com/v1/chat/completions"

func moderationServer(t *testing.T, flagged bool, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/moderations", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "is this ok", body["input"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "modr-1",
			"results": []map[string]any{{"flagged": flagged}},
		})
	}))
}

func TestGate_Flagged(t *testing.T) {
	var hits atomic.Int32
	srv := moderationServer(t, true, &hits)
	defer srv.Close()

	g := NewGate(openAIChat, "sk", WithBaseURL(srv.URL), WithLogger(core.Nop()))
	err := g.Moderate(context.Background(), llm.ChatMessage{Role: llm.RoleUser, Content: "is this ok"})
	assert.ErrorIs(t, err, llm.ErrModerationRejected)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGate_Clean(t *testing.T) {
	var hits atomic.Int32
	srv := moderationServer(t, false, &hits)
	defer srv.Close()

	g := NewGate(openAIChat, "sk", WithBaseURL(srv.URL), WithLogger(core.Nop()))
	assert.NoError(t, g.Moderate(context.Background(), llm.ChatMessage{Role: llm.RoleUser, Content: "is this ok"}))
}

func TestGate_SkipsOtherOriginsWithoutNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := moderationServer(t, true, &hits)
	defer srv.Close()

	for _, u := range []string{
		"http://localhost:8080/v1/chat/completions",
		"https://api.together.xyz/v1/chat/completions",
		"https://api.openai.com.evil.example/v1",
	} {
		g := NewGate(u, "sk", WithBaseURL(srv.URL), WithLogger(core.Nop()))
		assert.NoError(t, g.Moderate(context.Background(), llm.ChatMessage{Role: llm.RoleUser, Content: "is this ok"}))
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestGate_SkipsNonUserTurns(t *testing.T) {
	var hits atomic.Int32
	srv := moderationServer(t, true, &hits)
	defer srv.Close()

	g := NewGate(openAIChat, "sk", WithBaseURL(srv.URL), WithLogger(core.Nop()))
	assert.NoError(t, g.Moderate(context.Background(), llm.ChatMessage{Role: llm.RoleAssistant, Content: "is this ok"}))
	assert.Equal(t, int32(0), hits.Load())
}

func TestGate_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"down","type":"server_error"}}`))
	}))
	defer srv.Close()
	msg := llm.ChatMessage{Role: llm.RoleUser, Content: "is this ok"}

	closed := NewGate(openAIChat, "sk", WithBaseURL(srv.URL), WithLogger(core.Nop()))
	assert.ErrorIs(t, closed.Moderate(context.Background(), msg), llm.ErrModerationUnavailable)

	open := NewGate(openAIChat, "sk", WithBaseURL(srv.URL), WithFailOpen(), WithLogger(core.Nop()))
	assert.NoError(t, open.Moderate(context.Background(), msg))
}
