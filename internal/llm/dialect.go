package llm

import (
	"context"

	"pkdindustries/chatbridge/internal/tools"
)

// ToolChoice is the tool-calling mode advertised for one request round.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	// ArgumentsErr is set when the provider sent arguments that do not parse.
	ArgumentsErr error
}

// ToolResult is the outcome of one ToolCall, correlated by CallID.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Reply is one provider response in the orchestration loop.
type Reply struct {
	Content     string
	AudioData   string
	ToolCalls   []ToolCall
	Attachments []string
}

// Turn is everything a dialect needs for a single request round.
type Turn struct {
	Options    GenerationOptions
	UserID     string
	Tools      tools.Set
	ToolChoice ToolChoice
}

// Conversation is a provider-native working transcript. Each dialect owns
// its concrete type; the loop only ever appends to it.
type Conversation interface {
	AppendReply(reply *Reply)
	AppendToolResults(results []ToolResult)
}

// Dialect adapts one provider's wire protocol to the orchestration loop.
type Dialect interface {
	Name() string
	Format(ctx context.Context, messages []ChatMessage) (Conversation, error)
	Complete(ctx context.Context, conv Conversation, turn Turn) (*Reply, error)
}

// Moderator vets the most recent turn before any completion is requested.
type Moderator interface {
	Moderate(ctx context.Context, message ChatMessage) error
}

// AttachmentResolver turns deferred references (for example MCP resource
// URIs) into inline data when the final result is assembled.
type AttachmentResolver interface {
	ResolveAttachments(ctx context.Context, attachments []string) []string
}
