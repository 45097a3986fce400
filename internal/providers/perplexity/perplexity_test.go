package perplexity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/llm"
	"pkdindustries/chatbridge/internal/providers/perplexity"
)

func TestRewriteCitations(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		citations []string
		want      string
	}{
		{
			name:      "inline and unused",
			content:   "Go is fast [1].",
			citations: []string{"https://www.go.dev/doc", "https://example.org/x"},
			want:      "Go is fast [[go.dev]](https://www.go.dev/doc).\n\n[[example.org]](https://example.org/x)",
		},
		{
			name:      "out of range left alone",
			content:   "see [3]",
			citations: []string{"https://a.com"},
			want:      "see [3]\n\n[[a.com]](https://a.com)",
		},
		{
			name:      "malformed url",
			content:   "odd [1]",
			citations: []string{"not a url"},
			want:      "odd [[link]](not a url)",
		},
		{
			name:    "no citations",
			content: "plain [1]",
			want:    "plain [1]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, perplexity.RewriteCitations(tt.content, tt.citations))
		})
	}
}

func TestDialect_ImagesBecomeAttachments(t *testing.T) {
	var seen map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		assert.Equal(t, "Bearer pplx", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":"Cats [1]"}}],
			"citations":["https://cats.example/a"],
			"images":[{"image_url":"https://img.example/cat.jpg","origin_url":"https://cats.example"}]}`))
	}))
	defer srv.Close()

	o := llm.NewOrchestrator(perplexity.New(perplexity.Config{URL: srv.URL, APIKey: "pplx"}), llm.WithLogger(core.Nop()))
	res, err := o.RequestChatCompletion(context.Background(),
		[]llm.ChatMessage{{Role: llm.RoleUser, Content: "cats?", Attachments: []string{"https://ignored"}}},
		llm.GenerationOptions{"model": "sonar"}, llm.RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Cats [[cats.example]](https://cats.example/a)", res.Message.Content)
	assert.Equal(t, []string{"https://img.example/cat.jpg"}, res.Attachments)
	assert.Equal(t, false, seen["stream"])
	assert.Equal(t, "sonar", seen["model"])
	msgs := seen["messages"].([]any)
	assert.Equal(t, map[string]any{"role": "user", "content": "cats?"}, msgs[0])
}
