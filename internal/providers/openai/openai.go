// Package openai speaks the chat-completions wire protocol used by OpenAI and
// the many services that copy it (TogetherAI, local proxies and so on).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	ai "github.com/sashabaranov/go-openai"

	"pkdindustries/chatbridge/internal/llm"
)

const DefaultURL = "https://api.openai.com/v1/chat/completions"

// Config configures a Dialect.
type Config struct {
	// Name is shown in progress updates ("Requesting completion from <Name>...").
	Name   string
	URL    string
	APIKey string
	HTTP   *http.Client
}

// Dialect implements llm.Dialect for chat-completions endpoints.
type Dialect struct {
	name   string
	url    string
	apiKey string
	client *http.Client
}

var _ llm.Dialect = (*Dialect)(nil)

func New(cfg Config) *Dialect {
	d := &Dialect{name: cfg.Name, url: cfg.URL, apiKey: cfg.APIKey, client: cfg.HTTP}
	if d.name == "" {
		d.name = "OpenAI"
	}
	if d.url == "" {
		d.url = DefaultURL
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: 5 * time.Minute}
	}
	return d
}

func (d *Dialect) Name() string { return d.name }

type conversation struct {
	messages []ai.ChatCompletionMessage
	pending  *ai.ChatCompletionMessage
}

func (c *conversation) AppendReply(reply *llm.Reply) {
	if c.pending != nil {
		c.messages = append(c.messages, *c.pending)
		c.pending = nil
		return
	}
	msg := ai.ChatCompletionMessage{Role: ai.ChatMessageRoleAssistant, Content: reply.Content}
	for _, tc := range reply.ToolCalls {
		args, _ := json.Marshal(tc.Arguments)
		msg.ToolCalls = append(msg.ToolCalls, ai.ToolCall{
			ID:       tc.ID,
			Type:     ai.ToolTypeFunction,
			Function: ai.FunctionCall{Name: tc.Name, Arguments: string(args)},
		})
	}
	c.messages = append(c.messages, msg)
}

func (c *conversation) AppendToolResults(results []llm.ToolResult) {
	for _, r := range results {
		content := r.Content
		if content == "" {
			content = "(no output)"
		}
		c.messages = append(c.messages, ai.ChatCompletionMessage{
			Role:       ai.ChatMessageRoleTool,
			Content:    content,
			ToolCallID: r.CallID,
		})
	}
}

// Format converts canonical messages. User attachments are sent as image_url
// parts ahead of the text; the provider fetches them itself.
func (d *Dialect) Format(_ context.Context, messages []llm.ChatMessage) (llm.Conversation, error) {
	return &conversation{messages: FormatMessages(messages)}, nil
}

// FormatMessages maps canonical messages onto chat-completions messages.
func FormatMessages(messages []llm.ChatMessage) []ai.ChatCompletionMessage {
	out := make([]ai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := ai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content, Name: m.Name}
		switch m.Role {
		case llm.RoleUser:
			if len(m.Attachments) > 0 {
				parts := make([]ai.ChatMessagePart, 0, len(m.Attachments)+1)
				for _, url := range m.Attachments {
					parts = append(parts, ai.ChatMessagePart{
						Type:     ai.ChatMessagePartTypeImageURL,
						ImageURL: &ai.ChatMessageImageURL{URL: url},
					})
				}
				parts = append(parts, ai.ChatMessagePart{Type: ai.ChatMessagePartTypeText, Text: m.Content})
				msg.Content = ""
				msg.MultiContent = parts
			}
		case llm.RoleTool:
			if m.ToolCallID != "" {
				msg.ToolCallID = m.ToolCallID
				msg.Name = ""
			} else {
				msg.Role = ai.ChatMessageRoleUser
			}
		}
		out = append(out, msg)
	}
	return out
}

type responseAudio struct {
	Data       string `json:"data"`
	Transcript string `json:"transcript"`
}

type chatResponse struct {
	Choices []struct {
		Message json.RawMessage `json:"message"`
	} `json:"choices"`
	Error json.RawMessage `json:"error,omitempty"`
}

func (d *Dialect) Complete(ctx context.Context, conv llm.Conversation, turn llm.Turn) (*llm.Reply, error) {
	c, ok := conv.(*conversation)
	if !ok {
		return nil, fmt.Errorf("%s: foreign conversation type %T", d.name, conv)
	}

	payload := map[string]any(turn.Options.Without("messages", "tools", "tool_choice"))
	payload["messages"] = c.messages
	if len(turn.Tools) > 0 {
		defs := make([]ai.Tool, 0, len(turn.Tools))
		for _, def := range turn.Tools.Definitions() {
			defs = append(defs, def.OpenAI())
		}
		payload["tools"] = defs
		payload["tool_choice"] = string(turn.ToolChoice)
	}
	if turn.UserID != "" {
		if _, set := payload["user"]; !set {
			payload["user"] = turn.UserID
		}
	}

	raw, err := PostJSON(ctx, d.client, d.url, d.apiKey, payload)
	if err != nil {
		return nil, llm.NewProviderError(d.name, "request failed", string(raw), err)
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, llm.NewProviderError(d.name, "malformed response", string(raw), err)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return nil, llm.NewProviderError(d.name, "error response", string(raw), nil)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewProviderError(d.name, "response has no choices", string(raw), nil)
	}

	var msg ai.ChatCompletionMessage
	if err := json.Unmarshal(resp.Choices[0].Message, &msg); err != nil {
		return nil, llm.NewProviderError(d.name, "malformed message", string(raw), err)
	}
	var extra struct {
		Audio *responseAudio `json:"audio"`
	}
	_ = json.Unmarshal(resp.Choices[0].Message, &extra)

	reply := &llm.Reply{Content: msg.Content}
	if extra.Audio != nil {
		if reply.Content == "" {
			reply.Content = extra.Audio.Transcript
		}
		if extra.Audio.Data != "" {
			reply.AudioData = fmt.Sprintf("data:audio/%s;base64,%s", audioFormat(turn.Options), extra.Audio.Data)
		}
	}
	for _, tc := range msg.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, parseToolCall(tc))
	}
	if len(msg.ToolCalls) > 0 {
		msg.Role = ai.ChatMessageRoleAssistant
		c.pending = &msg
	}
	return reply, nil
}

func parseToolCall(tc ai.ToolCall) llm.ToolCall {
	call := llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: map[string]any{}}
	if tc.Function.Arguments == "" {
		return call
	}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Arguments); err != nil {
		call.Arguments = nil
		call.ArgumentsErr = err
	}
	return call
}

func audioFormat(opts llm.GenerationOptions) string {
	if audio, ok := opts["audio"].(map[string]any); ok {
		if f, ok := audio["format"].(string); ok && f != "" {
			return f
		}
	}
	return "wav"
}

// PostJSON sends payload with bearer auth and returns the body. Non-2xx
// statuses are errors, but the body is still returned for diagnostics.
func PostJSON(ctx context.Context, client *http.Client, url, apiKey string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, fmt.Errorf("status %d", resp.StatusCode)
	}
	return data, nil
}
