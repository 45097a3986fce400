package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"pkdindustries/chatbridge/internal/media"
	"pkdindustries/chatbridge/internal/tools"
)

// ToolAdapter exposes an MCP server tool through the tools.Tool interface.
type ToolAdapter struct {
	client *Client
	tool   *mcpsdk.Tool
	def    tools.Definition
}

var _ tools.Tool = (*ToolAdapter)(nil)

func NewToolAdapter(client *Client, tool *mcpsdk.Tool) *ToolAdapter {
	return &ToolAdapter{
		client: client,
		tool:   tool,
		def: tools.Definition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toSchema(tool.InputSchema),
		},
	}
}

func (a *ToolAdapter) Definition() tools.Definition {
	return a.def
}

// Server names the MCP server that owns the tool.
func (a *ToolAdapter) Server() string {
	return a.client.Name()
}

func (a *ToolAdapter) HandleToolCall(ctx context.Context, args map[string]any) (*tools.Response, error) {
	res, err := a.client.CallTool(ctx, a.tool.Name, args)
	if err != nil {
		return nil, fmt.Errorf("mcp tool %s: %w", a.tool.Name, err)
	}
	resp := convertResult(res)
	if res.IsError {
		msg := resp.Text()
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, errors.New(msg)
	}
	return resp, nil
}

// convertResult maps MCP content blocks onto a tool response: text is joined
// with newlines, images become data URLs and resources become deferred URIs.
func convertResult(res *mcpsdk.CallToolResult) *tools.Response {
	var texts, attachments []string
	for _, c := range res.Content {
		switch v := c.(type) {
		case *mcpsdk.TextContent:
			texts = append(texts, v.Text)
		case *mcpsdk.ImageContent:
			if len(v.Data) == 0 {
				continue
			}
			mimeType := v.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}
			attachments = append(attachments, media.Encode(mimeType, v.Data))
		case *mcpsdk.EmbeddedResource:
			if v.Resource != nil && v.Resource.URI != "" {
				attachments = append(attachments, v.Resource.URI)
			}
		case *mcpsdk.ResourceLink:
			if v.URI != "" {
				attachments = append(attachments, v.URI)
			}
		}
	}

	resp := &tools.Response{Attachments: attachments}
	switch {
	case len(texts) > 0:
		resp.Result = strings.Join(texts, "\n")
	case res.StructuredContent != nil:
		resp.Result = res.StructuredContent
	case len(res.Content) > 0:
		resp.Result = res.Content
	}
	return resp
}

// toSchema normalizes whatever the server advertised into a jsonschema.Schema.
func toSchema(v any) *jsonschema.Schema {
	if v == nil {
		return nil
	}
	if s, ok := v.(*jsonschema.Schema); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}
