// Package moderation screens user input with the OpenAI moderation endpoint.
package moderation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	ai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/llm"
)

// OpenAIOrigin is the only connection origin moderation applies to.
const OpenAIOrigin = "https://api.openai.com/"

// Gate checks the latest user turn before a completion is requested.
type Gate struct {
	connectionURL string
	client        *ai.Client
	model         string
	failOpen      bool
	logger        *zap.SugaredLogger
}

var _ llm.Moderator = (*Gate)(nil)

type Option func(*Gate, *ai.ClientConfig)

// WithBaseURL points the moderation client somewhere other than api.openai.com.
func WithBaseURL(u string) Option {
	return func(_ *Gate, c *ai.ClientConfig) { c.BaseURL = strings.TrimRight(u, "/") }
}

// WithModel selects the moderation model; empty uses the API default.
func WithModel(model string) Option {
	return func(g *Gate, _ *ai.ClientConfig) { g.model = model }
}

// WithFailOpen lets requests through when the moderation call itself fails.
func WithFailOpen() Option {
	return func(g *Gate, _ *ai.ClientConfig) { g.failOpen = true }
}

// WithHTTPClient sends moderation requests through hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(_ *Gate, c *ai.ClientConfig) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(g *Gate, _ *ai.ClientConfig) { g.logger = l }
}

// NewGate builds a gate for a connector reaching connectionURL.
func NewGate(connectionURL, apiKey string, opts ...Option) *Gate {
	g := &Gate{connectionURL: connectionURL}
	cfg := ai.DefaultConfig(apiKey)
	for _, opt := range opts {
		opt(g, &cfg)
	}
	if g.logger == nil {
		g.logger = core.GetLogger()
	}
	g.client = ai.NewClientWithConfig(cfg)
	return g
}

// Applies reports whether this gate would contact the moderation endpoint.
func (g *Gate) Applies(msg llm.ChatMessage) bool {
	return msg.Role == llm.RoleUser && strings.HasPrefix(g.connectionURL, OpenAIOrigin)
}

func (g *Gate) Moderate(ctx context.Context, msg llm.ChatMessage) error {
	if !g.Applies(msg) {
		return nil
	}
	text := Text(msg)
	if text == "" {
		return nil
	}

	resp, err := g.client.Moderations(ctx, ai.ModerationRequest{Input: text, Model: g.model})
	if err != nil {
		if g.failOpen {
			g.logger.Warnw("Moderation unavailable, allowing message", "error", err)
			return nil
		}
		return fmt.Errorf("%w: %v", llm.ErrModerationUnavailable, err)
	}
	for _, r := range resp.Results {
		if r.Flagged {
			return llm.ErrModerationRejected
		}
	}
	return nil
}

// Text extracts the plain text of a turn, ignoring attachments.
func Text(msg llm.ChatMessage) string {
	return strings.TrimSpace(msg.Content)
}
