package llm

import (
	"context"
	"maps"
	"os"

	"pkdindustries/chatbridge/internal/updates"
)

// Role is the speaker of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is the provider-neutral conversation turn.
type ChatMessage struct {
	Role        Role
	Content     string
	Name        string
	Attachments []string
	// AudioData holds a data URL when the provider answered with audio.
	AudioData string
	// ToolCallID correlates a tool turn with the call that produced it.
	ToolCallID string
}

// GenerationOptions is passed through to the provider untouched, apart from
// the fields the orchestrator owns (messages, tools, tool_choice, system, user).
type GenerationOptions map[string]any

// Model returns the mandatory model identifier.
func (o GenerationOptions) Model() string {
	if v, ok := o["model"].(string); ok {
		return v
	}
	return ""
}

// Without returns a copy with the named keys removed.
func (o GenerationOptions) Without(keys ...string) GenerationOptions {
	out := maps.Clone(o)
	if out == nil {
		out = GenerationOptions{}
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// ConnectionOptions describe how a connector reaches its provider.
type ConnectionOptions struct {
	URL string `yaml:"url"`
	// APIKey names the environment variable holding the secret.
	APIKey     string   `yaml:"apiKey"`
	Tools      []string `yaml:"tools"`
	MCPServers []string `yaml:"mcpServers"`
}

// ResolveAPIKey reads the secret from the environment.
func (c ConnectionOptions) ResolveAPIKey() string {
	if c.APIKey == "" {
		return ""
	}
	return os.Getenv(c.APIKey)
}

// RequestOptions carry per-request data that is not sent as generation options.
type RequestOptions struct {
	UserID  string
	Updates *updates.Emitter
}

// ChatCompletionResult is the final assistant message plus every attachment
// gathered while producing it.
type ChatCompletionResult struct {
	Message     ChatMessage
	Attachments []string
}

// Connector is the uniform completion entry point every provider satisfies.
type Connector interface {
	RequestChatCompletion(ctx context.Context, messages []ChatMessage, opts GenerationOptions, reqOpts RequestOptions) (*ChatCompletionResult, error)
}

// LastMessage returns the final turn, or false for an empty transcript.
func LastMessage(messages []ChatMessage) (ChatMessage, bool) {
	if len(messages) == 0 {
		return ChatMessage{}, false
	}
	return messages[len(messages)-1], true
}

// SplitSystem pulls the system instruction out of a transcript. Only the
// first system turn is honoured; later ones are dropped.
func SplitSystem(messages []ChatMessage) (string, []ChatMessage) {
	var system string
	found := false
	rest := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if !found {
				system = m.Content
				found = true
			}
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
