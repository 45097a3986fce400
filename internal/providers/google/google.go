// Package google adapts the Gemini generateContent API to the orchestration loop.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/llm"
	"pkdindustries/chatbridge/internal/media"
)

const DefaultURL = "https://generativelanguage.googleapis.com/v1beta"

var owned = []string{"model", "messages", "contents", "system", "system_instruction", "tools", "tool_choice", "generationConfig"}

type Config struct {
	Name    string
	URL     string
	APIKey  string
	HTTP    *http.Client
	Fetcher *media.Fetcher
	Logger  *zap.SugaredLogger
}

type Dialect struct {
	cfg     Config
	fetcher *media.Fetcher
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	client *genai.Client
}

var _ llm.Dialect = (*Dialect)(nil)

func New(cfg Config) *Dialect {
	if cfg.Name == "" {
		cfg.Name = "Google AI"
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	d := &Dialect{cfg: cfg, fetcher: cfg.Fetcher, logger: cfg.Logger}
	if d.logger == nil {
		d.logger = core.GetLogger()
	}
	if d.fetcher == nil {
		d.fetcher = media.NewFetcher(media.WithLogger(d.logger))
	}
	return d
}

func (d *Dialect) Name() string { return d.cfg.Name }

func (d *Dialect) genai(ctx context.Context) (*genai.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}
	base, version := splitVersion(d.cfg.URL)
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      d.cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  d.cfg.HTTP,
		HTTPOptions: genai.HTTPOptions{BaseURL: base, APIVersion: version},
	})
	if err != nil {
		return nil, err
	}
	d.client = client
	return client, nil
}

// splitVersion separates a trailing API version segment ("v1beta") from the
// endpoint so it can be handed to the SDK separately.
func splitVersion(endpoint string) (string, string) {
	u, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil {
		return endpoint, ""
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segs[len(segs)-1]
	if !strings.HasPrefix(last, "v1") && !strings.HasPrefix(last, "v2") {
		return u.String() + "/", ""
	}
	u.Path = "/" + strings.Join(segs[:len(segs)-1], "/")
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), last
}

type conversation struct {
	system   string
	contents []*genai.Content
	pending  *genai.Content
}

func (c *conversation) AppendReply(reply *llm.Reply) {
	if c.pending != nil {
		c.contents = append(c.contents, c.pending)
		c.pending = nil
		return
	}
	content := &genai.Content{Role: genai.RoleModel}
	if reply.Content != "" {
		content.Parts = append(content.Parts, &genai.Part{Text: reply.Content})
	}
	for _, tc := range reply.ToolCalls {
		content.Parts = append(content.Parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Arguments},
		})
	}
	c.contents = append(c.contents, content)
}

// AppendToolResults answers all calls in one user turn. Failures go under
// "error", everything else under "result".
func (c *conversation) AppendToolResults(results []llm.ToolResult) {
	if len(results) == 0 {
		return
	}
	content := &genai.Content{Role: genai.RoleUser}
	for _, r := range results {
		key := "result"
		if r.IsError {
			key = "error"
		}
		content.Parts = append(content.Parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       r.CallID,
				Name:     r.Name,
				Response: map[string]any{key: r.Content},
			},
		})
	}
	c.contents = append(c.contents, content)
}

// Format maps assistant turns onto the "model" role and inlines user
// attachments as base64 blobs.
func (d *Dialect) Format(ctx context.Context, messages []llm.ChatMessage) (llm.Conversation, error) {
	system, rest := llm.SplitSystem(messages)
	conv := &conversation{system: system}

	for _, m := range rest {
		role := genai.RoleUser
		if m.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		content := &genai.Content{Role: role}
		if m.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
		}
		if m.Role == llm.RoleUser {
			for _, att := range d.fetcher.FetchAll(ctx, m.Attachments) {
				content.Parts = append(content.Parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: att.MIMEType, Data: att.Data},
				})
			}
		}
		if len(content.Parts) > 0 {
			conv.contents = append(conv.contents, content)
		}
	}
	return conv, nil
}

func (d *Dialect) Complete(ctx context.Context, conv llm.Conversation, turn llm.Turn) (*llm.Reply, error) {
	c, ok := conv.(*conversation)
	if !ok {
		return nil, fmt.Errorf("%s: foreign conversation type %T", d.cfg.Name, conv)
	}
	client, err := d.genai(ctx)
	if err != nil {
		return nil, llm.NewProviderError(d.cfg.Name, "client setup failed", nil, err)
	}

	config, err := generationConfig(turn.Options)
	if err != nil {
		return nil, err
	}
	if c.system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: c.system}}}
	}
	if len(turn.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(turn.Tools))
		for _, def := range turn.Tools.Definitions() {
			decls = append(decls, def.Google())
		}
		mode := genai.FunctionCallingConfigModeAuto
		if turn.ToolChoice == llm.ToolChoiceNone {
			mode = genai.FunctionCallingConfigModeNone
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
	}

	resp, err := client.Models.GenerateContent(ctx, turn.Options.Model(), c.contents, config)
	if err != nil {
		return nil, llm.NewProviderError(d.cfg.Name, "request failed", nil, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, llm.NewProviderError(d.cfg.Name, "response has no candidates", resp, nil)
	}

	content := resp.Candidates[0].Content
	reply := &llm.Reply{}
	var text strings.Builder
	for _, part := range content.Parts {
		switch {
		case part.FunctionCall != nil:
			id := part.FunctionCall.ID
			if id == "" {
				id = uuid.NewString()
				part.FunctionCall.ID = id
			}
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			reply.ToolCalls = append(reply.ToolCalls, llm.ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: args})
		case part.InlineData != nil:
			reply.Attachments = append(reply.Attachments, media.Encode(part.InlineData.MIMEType, part.InlineData.Data))
		case part.Text != "" && !part.Thought:
			text.WriteString(part.Text)
		}
	}
	reply.Content = text.String()

	if len(reply.ToolCalls) > 0 {
		if content.Role == "" {
			content.Role = genai.RoleModel
		}
		c.pending = content
	}
	return reply, nil
}

// generationConfig decodes pass-through options into the SDK config. Keys use
// the API's camelCase names; a nested generationConfig object is merged first.
func generationConfig(opts llm.GenerationOptions) (*genai.GenerateContentConfig, error) {
	merged := map[string]any{}
	if nested, ok := opts["generationConfig"].(map[string]any); ok {
		for k, v := range nested {
			merged[k] = v
		}
	}
	for k, v := range opts.Without(owned...) {
		merged[k] = v
	}

	config := &genai.GenerateContentConfig{}
	if len(merged) == 0 {
		return config, nil
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode generation options: %w", err)
	}
	if err := json.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("decode generation options: %w", err)
	}
	return config, nil
}
