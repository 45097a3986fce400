// Package wolfram answers the latest turn with a Wolfram|Alpha computation.
// It is a Connector on its own; there is no model or tool loop behind it.
package wolfram

import (
	"context"
	"errors"

	"pkdindustries/chatbridge/internal/llm"
	"pkdindustries/chatbridge/internal/tools"
)

const Name = "Wolfram Alpha"

type Connector struct {
	client *tools.WolframClient
}

var _ llm.Connector = (*Connector)(nil)

func New(client *tools.WolframClient) *Connector {
	return &Connector{client: client}
}

func (c *Connector) RequestChatCompletion(ctx context.Context, messages []llm.ChatMessage, _ llm.GenerationOptions, reqOpts llm.RequestOptions) (*llm.ChatCompletionResult, error) {
	last, ok := llm.LastMessage(messages)
	if !ok {
		return nil, llm.NewProviderError(Name, "no message to compute", nil, nil)
	}

	reqOpts.Updates.Send("Requesting computation from Wolfram Alpha...")
	body, err := c.client.Query(ctx, last.Content)
	if err != nil {
		return nil, llm.NewProviderError(Name, "request failed", string(body), err)
	}
	text, err := tools.PlainResult(body)
	if err != nil {
		msg := "malformed response"
		if errors.Is(err, tools.ErrNoWolframResult) {
			msg = "no result"
		}
		return nil, llm.NewProviderError(Name, msg, string(body), err)
	}
	return &llm.ChatCompletionResult{
		Message: llm.ChatMessage{Role: llm.RoleAssistant, Content: text},
	}, nil
}
