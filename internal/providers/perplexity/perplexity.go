// Package perplexity talks to the Perplexity chat endpoint and rewrites its
// numbered citations into markdown links.
package perplexity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pkdindustries/chatbridge/internal/llm"
	"pkdindustries/chatbridge/internal/providers/openai"
)

const DefaultURL = "https://api.perplexity.ai/chat/completions"

type Config struct {
	Name   string
	URL    string
	APIKey string
	HTTP   *http.Client
}

// Dialect sends text-only transcripts. Perplexity has no tool calling, so
// advertised tools are ignored and every reply ends the loop.
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
		d.name = "Perplexity"
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

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type conversation struct {
	messages []message
}

func (c *conversation) AppendReply(reply *llm.Reply) {
	c.messages = append(c.messages, message{Role: string(llm.RoleAssistant), Content: reply.Content})
}

func (c *conversation) AppendToolResults([]llm.ToolResult) {}

func (d *Dialect) Format(_ context.Context, messages []llm.ChatMessage) (llm.Conversation, error) {
	conv := &conversation{messages: make([]message, 0, len(messages))}
	for _, m := range messages {
		role := m.Role
		if role == llm.RoleTool {
			role = llm.RoleUser
		}
		conv.messages = append(conv.messages, message{Role: string(role), Content: m.Content})
	}
	return conv, nil
}

type response struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Images    []struct {
		ImageURL  string `json:"image_url"`
		OriginURL string `json:"origin_url"`
	} `json:"images"`
	Error json.RawMessage `json:"error,omitempty"`
}

func (d *Dialect) Complete(ctx context.Context, conv llm.Conversation, turn llm.Turn) (*llm.Reply, error) {
	c, ok := conv.(*conversation)
	if !ok {
		return nil, fmt.Errorf("%s: foreign conversation type %T", d.name, conv)
	}

	payload := map[string]any(turn.Options.Without("messages", "tools", "tool_choice", "stream"))
	payload["messages"] = c.messages
	payload["stream"] = false

	raw, err := openai.PostJSON(ctx, d.client, d.url, d.apiKey, payload)
	if err != nil {
		return nil, llm.NewProviderError(d.name, "request failed", string(raw), err)
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, llm.NewProviderError(d.name, "malformed response", string(raw), err)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return nil, llm.NewProviderError(d.name, "error response", string(raw), nil)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewProviderError(d.name, "response has no choices", string(raw), nil)
	}

	reply := &llm.Reply{Content: RewriteCitations(resp.Choices[0].Message.Content, resp.Citations)}
	for _, img := range resp.Images {
		if img.ImageURL != "" {
			reply.Attachments = append(reply.Attachments, img.ImageURL)
		}
	}
	return reply, nil
}

var citationRef = regexp.MustCompile(`\[(\d+)\]`)

// RewriteCitations replaces 1-based [n] markers with [[host]](url) links and
// appends the citations that were never referenced.
func RewriteCitations(content string, citations []string) string {
	if len(citations) == 0 {
		return content
	}
	used := make(map[int]bool, len(citations))
	out := citationRef.ReplaceAllStringFunc(content, func(match string) string {
		n, err := strconv.Atoi(match[1 : len(match)-1])
		idx := n - 1
		if err != nil || idx < 0 || idx >= len(citations) || citations[idx] == "" {
			return match
		}
		used[idx] = true
		return citationLink(citations[idx])
	})

	var unused []string
	for i, c := range citations {
		if !used[i] {
			unused = append(unused, citationLink(c))
		}
	}
	if len(unused) > 0 {
		out += "\n\n" + strings.Join(unused, ", ")
	}
	return out
}

func citationLink(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return fmt.Sprintf("[[link]](%s)", raw)
	}
	return fmt.Sprintf("[[%s]](%s)", strings.TrimPrefix(u.Hostname(), "www."), raw)
}
