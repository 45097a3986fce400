// Package anthropic adapts the Messages API to the orchestration loop.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/llm"
	"pkdindustries/chatbridge/internal/media"
)

const (
	DefaultURL       = "https://api.anthropic.com/v1/messages"
	DefaultMaxTokens = 4096
)

// options the dialect sets itself; everything else is forwarded verbatim.
var owned = []string{"model", "max_tokens", "messages", "system", "tools", "tool_choice"}

type Config struct {
	Name    string
	URL     string
	APIKey  string
	Fetcher *media.Fetcher
	Logger  *zap.SugaredLogger
	// Options are appended to every request; tests use them to swap the transport.
	Options []option.RequestOption
}

type Dialect struct {
	name    string
	client  anthropic.Client
	fetcher *media.Fetcher
	logger  *zap.SugaredLogger
}

var _ llm.Dialect = (*Dialect)(nil)

func New(cfg Config) *Dialect {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := baseURL(cfg.URL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	opts = append(opts, cfg.Options...)

	d := &Dialect{
		name:    cfg.Name,
		client:  anthropic.NewClient(opts...),
		fetcher: cfg.Fetcher,
		logger:  cfg.Logger,
	}
	if d.name == "" {
		d.name = "Anthropic"
	}
	if d.logger == nil {
		d.logger = core.GetLogger()
	}
	if d.fetcher == nil {
		d.fetcher = media.NewFetcher(media.WithLogger(d.logger))
	}
	return d
}

// baseURL turns a configured endpoint into the SDK base URL. Both the bare
// host and the full messages endpoint are accepted.
func baseURL(u string) string {
	if u == "" {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSuffix(u, "/"), "/v1/messages")
}

func (d *Dialect) Name() string { return d.name }

type conversation struct {
	system   string
	messages []anthropic.MessageParam
	pending  *anthropic.MessageParam
}

func (c *conversation) AppendReply(reply *llm.Reply) {
	if c.pending != nil {
		c.messages = append(c.messages, *c.pending)
		c.pending = nil
		return
	}
	var blocks []anthropic.ContentBlockParamUnion
	if reply.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(reply.Content))
	}
	for _, tc := range reply.ToolCalls {
		blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
	}
	c.messages = append(c.messages, anthropic.NewAssistantMessage(blocks...))
}

// AppendToolResults answers every tool_use block in a single user turn.
func (c *conversation) AppendToolResults(results []llm.ToolResult) {
	if len(results) == 0 {
		return
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, anthropic.NewToolResultBlock(r.CallID, r.Content, r.IsError))
	}
	c.messages = append(c.messages, anthropic.NewUserMessage(blocks...))
}

// Format splits off the system instruction and inlines user attachments as
// base64 image blocks. An attachment of an unsupported type fails the request.
func (d *Dialect) Format(ctx context.Context, messages []llm.ChatMessage) (llm.Conversation, error) {
	system, rest := llm.SplitSystem(messages)
	conv := &conversation{system: system}

	for _, m := range rest {
		var blocks []anthropic.ContentBlockParamUnion
		switch m.Role {
		case llm.RoleUser:
			for _, img := range d.fetcher.FetchAll(ctx, m.Attachments) {
				if err := media.ValidateImageType(img.MIMEType); err != nil {
					return nil, err
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(media.MediaType(img.MIMEType), img.Base64()))
			}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			if len(blocks) > 0 {
				conv.messages = append(conv.messages, anthropic.NewUserMessage(blocks...))
			}
		case llm.RoleAssistant:
			if m.Content != "" {
				conv.messages = append(conv.messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			}
		case llm.RoleTool:
			if m.ToolCallID != "" {
				conv.messages = append(conv.messages, anthropic.NewUserMessage(
					anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
			} else if m.Content != "" {
				conv.messages = append(conv.messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	return conv, nil
}

func (d *Dialect) Complete(ctx context.Context, conv llm.Conversation, turn llm.Turn) (*llm.Reply, error) {
	c, ok := conv.(*conversation)
	if !ok {
		return nil, fmt.Errorf("%s: foreign conversation type %T", d.name, conv)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(turn.Options.Model()),
		MaxTokens: maxTokens(turn.Options),
		Messages:  c.messages,
	}
	if c.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.system}}
	}
	if len(turn.Tools) > 0 {
		for _, def := range turn.Tools.Definitions() {
			params.Tools = append(params.Tools, def.Anthropic())
		}
		if turn.ToolChoice == llm.ToolChoiceNone {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	var extra []option.RequestOption
	for k, v := range turn.Options.Without(owned...) {
		extra = append(extra, option.WithJSONSet(k, v))
	}

	msg, err := d.client.Messages.New(ctx, params, extra...)
	if err != nil {
		return nil, llm.NewProviderError(d.name, "request failed", nil, err)
	}
	if msg == nil || len(msg.Content) == 0 {
		return nil, llm.NewProviderError(d.name, "response has no content", msg, nil)
	}

	reply := &llm.Reply{}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			reply.ToolCalls = append(reply.ToolCalls, parseToolUse(block))
		}
	}
	reply.Content = strings.Join(text, "")

	if len(reply.ToolCalls) > 0 {
		p := msg.ToParam()
		c.pending = &p
	}
	d.logger.Debugw("Anthropic response", "stop_reason", msg.StopReason, "tool_calls", len(reply.ToolCalls))
	return reply, nil
}

func parseToolUse(block anthropic.ContentBlockUnion) llm.ToolCall {
	call := llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: map[string]any{}}
	if len(block.Input) == 0 {
		return call
	}
	if err := json.Unmarshal(block.Input, &call.Arguments); err != nil {
		call.Arguments = nil
		call.ArgumentsErr = err
	}
	return call
}

func maxTokens(opts llm.GenerationOptions) int64 {
	switch v := opts["max_tokens"].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return DefaultMaxTokens
}
