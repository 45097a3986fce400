package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"pkdindustries/chatbridge/internal/media"
)

type echoTool struct{ name string }

func (e echoTool) Definition() Definition {
	return Definition{
		Name:        e.name,
		Description: "echoes its input",
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"text":  {Type: "string", Description: "what to echo"},
				"times": {Type: "integer"},
				"tags":  {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
				"mode":  {Type: "string", Enum: []any{"loud", "quiet"}},
			},
			Required: []string{"text"},
		},
	}
}

func (e echoTool) HandleToolCall(_ context.Context, args map[string]any) (*Response, error) {
	return &Response{Result: args["text"]}, nil
}

func TestRegistry_RegisterAndSelect(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool{name: "b"}))
	require.NoError(t, r.Register(echoTool{name: "a"}))
	assert.Error(t, r.Register(echoTool{name: "a"}))
	assert.Error(t, r.Register(echoTool{}))

	_, ok := r.Get("a")
	assert.True(t, ok)
	_, ok = r.Get("missing")
	assert.False(t, ok)

	set := r.Select([]string{"b", "missing", "a"})
	require.Len(t, set, 2)
	assert.Equal(t, "b", set[0].Definition().Name)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	found, ok := set.Find("a")
	require.True(t, ok)
	assert.Equal(t, "a", found.Definition().Name)
}

func TestResponse_Text(t *testing.T) {
	assert.Equal(t, "", (*Response)(nil).Text())
	assert.Equal(t, "plain", (&Response{Result: "plain"}).Text())
	assert.JSONEq(t, `[{"title":"t","url":"u","content":"c"}]`,
		(&Response{Result: []SearchResult{{Title: "t", URL: "u", Content: "c"}}}).Text())
}

func TestDefinition_OpenAIProjection(t *testing.T) {
	tool := echoTool{name: "echo"}.Definition().OpenAI()
	require.NotNil(t, tool.Function)
	assert.Equal(t, "echo", tool.Function.Name)
	assert.False(t, tool.Function.Strict)

	raw, err := json.Marshal(tool)
	require.NoError(t, err)
	var decoded struct {
		Type     string `json:"type"`
		Function struct {
			Parameters struct {
				Type       string                    `json:"type"`
				Properties map[string]map[string]any `json:"properties"`
				Required   []string                  `json:"required"`
			} `json:"parameters"`
		} `json:"function"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "function", decoded.Type)
	assert.Equal(t, "object", decoded.Function.Parameters.Type)
	assert.Equal(t, []string{"text"}, decoded.Function.Parameters.Required)
	assert.Equal(t, "array", decoded.Function.Parameters.Properties["tags"]["type"])
	assert.Equal(t, []any{"loud", "quiet"}, decoded.Function.Parameters.Properties["mode"]["enum"])
}

func TestDefinition_AnthropicProjection(t *testing.T) {
	u := echoTool{name: "echo"}.Definition().Anthropic()
	require.NotNil(t, u.OfTool)
	assert.Equal(t, "echo", u.OfTool.Name)
	assert.Equal(t, []string{"text"}, u.OfTool.InputSchema.Required)

	props, ok := u.OfTool.InputSchema.Properties.(map[string]any)
	require.True(t, ok)
	tags := props["tags"].(map[string]any)
	assert.Equal(t, "array", tags["type"])
	assert.Equal(t, map[string]any{"type": "string"}, tags["items"])
}

func TestDefinition_GoogleProjection(t *testing.T) {
	decl := echoTool{name: "echo"}.Definition().Google()
	assert.Equal(t, "echo", decl.Name)
	require.NotNil(t, decl.Parameters)
	assert.Equal(t, genai.TypeObject, decl.Parameters.Type)
	assert.Equal(t, genai.TypeInteger, decl.Parameters.Properties["times"].Type)
	assert.Equal(t, genai.TypeString, decl.Parameters.Properties["tags"].Items.Type)
	assert.Equal(t, []string{"loud", "quiet"}, decl.Parameters.Properties["mode"].Enum)

	bare := Definition{Name: "noargs"}.Google()
	assert.Nil(t, bare.Parameters)
}

func TestSearchTool_TopFive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		var results []map[string]string
		for i := range 8 {
			results = append(results, map[string]string{
				"title": fmt.Sprintf("r%d", i), "url": "https://example.com", "content": "c", "engine": "x",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	defer srv.Close()

	resp, err := NewSearchTool(srv.URL+"/", nil).HandleToolCall(context.Background(), map[string]any{"query": "golang"})
	require.NoError(t, err)
	results := resp.Result.([]SearchResult)
	require.Len(t, results, 5)
	assert.Equal(t, "r0", results[0].Title)
}

func TestSearchTool_RequiresQuery(t *testing.T) {
	_, err := NewSearchTool("http://unused", nil).HandleToolCall(context.Background(), map[string]any{})
	assert.Error(t, err)
}

const wolframBody = `{"queryresult":{"success":true,"pods":[{"id":"Result","subpods":[{"plaintext":"42"}]}]}}`

func TestWolframTool_ReturnsRawAndAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "app-123", q.Get("appid"))
		assert.Equal(t, "Result", q.Get("includepodid"))
		assert.Equal(t, "metric", q.Get("units"))
		_, _ = w.Write([]byte(wolframBody))
	}))
	defer srv.Close()

	client := NewWolframClient("app-123")
	client.Endpoint = srv.URL
	resp, err := NewWolframTool(client).HandleToolCall(context.Background(), map[string]any{"query": "6*7"})
	require.NoError(t, err)
	assert.Equal(t, wolframBody, resp.Result)
	require.Len(t, resp.Attachments, 1)

	d, err := media.Decode(resp.Attachments[0])
	require.NoError(t, err)
	assert.Equal(t, "application/json", d.MIMEType)

	text, err := PlainResult(d.Data)
	require.NoError(t, err)
	assert.Equal(t, "42", text)
}

func TestPlainResult_Missing(t *testing.T) {
	_, err := PlainResult([]byte(`{"queryresult":{"pods":[]}}`))
	assert.ErrorIs(t, err, ErrNoWolframResult)
}

func TestOpenAIImageTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-image-1", body["model"])
		assert.Equal(t, "user-9", body["user"])
		assert.Equal(t, "low", body["moderation"])
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{{"b64_json": "aGk="}}})
	}))
	defer srv.Close()

	tool := NewOpenAIImageTool("sk-test", srv.URL)
	ctx := WithUserID(context.Background(), "user-9")
	resp, err := tool.HandleToolCall(ctx, map[string]any{"prompt": "a cat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"data:image/png;base64,aGk="}, resp.Attachments)

	_, err = tool.HandleToolCall(ctx, map[string]any{})
	assert.Error(t, err)
}

func TestImagenTool_ValidatesPrompt(t *testing.T) {
	tool := NewImagenTool("")
	long := make([]byte, maxImagenPrompt+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := tool.HandleToolCall(context.Background(), map[string]any{"prompt": string(long)})
	assert.ErrorContains(t, err, "invalid prompt")

	_, err = tool.HandleToolCall(context.Background(), map[string]any{"prompt": "a lighthouse"})
	assert.ErrorContains(t, err, "not configured")
}
