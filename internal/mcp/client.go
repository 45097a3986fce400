// Package mcp connects to Model Context Protocol servers and exposes their
// tools, resources and prompts to the rest of the bridge.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by any call made on a client without a live session.
var ErrNotConnected = errors.New("mcp server not connected")

// Implementation identifies this process to MCP servers.
var Implementation = &mcpsdk.Implementation{Name: "chatbridge", Version: "1.0.0"}

// ServerConfig describes how to reach one MCP server.
type ServerConfig struct {
	// Transport is "stdio" (default), "sse" or "streamable".
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
}

// Client is one MCP server session plus the catalog captured at connect time.
type Client struct {
	name   string
	cfg    ServerConfig
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	session   *mcpsdk.ClientSession
	tools     []*mcpsdk.Tool
	resources []*mcpsdk.Resource
	prompts   []*mcpsdk.Prompt
}

func NewClient(name string, cfg ServerConfig, logger *zap.SugaredLogger) *Client {
	return &Client{name: name, cfg: cfg, logger: logger.With("mcp_server", name)}
}

func (c *Client) Name() string { return c.name }

func (c *Client) transport() (mcpsdk.Transport, error) {
	switch strings.ToLower(c.cfg.Transport) {
	case "", "stdio":
		if c.cfg.Command == "" {
			return nil, fmt.Errorf("mcp server %s: command is required for stdio", c.name)
		}
		cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
		cmd.Env = os.Environ()
		for k, v := range c.cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		cmd.Stderr = zap.NewStdLog(c.logger.Desugar()).Writer()
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case "sse":
		if c.cfg.URL == "" {
			return nil, fmt.Errorf("mcp server %s: url is required for sse", c.name)
		}
		return &mcpsdk.SSEClientTransport{Endpoint: c.cfg.URL}, nil
	case "streamable", "http":
		if c.cfg.URL == "" {
			return nil, fmt.Errorf("mcp server %s: url is required for streamable http", c.name)
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: c.cfg.URL}, nil
	default:
		return nil, fmt.Errorf("mcp server %s: unknown transport %q", c.name, c.cfg.Transport)
	}
}

// Connect opens the configured transport and snapshots the server catalog.
func (c *Client) Connect(ctx context.Context) error {
	t, err := c.transport()
	if err != nil {
		return err
	}
	return c.ConnectTransport(ctx, t)
}

// ConnectTransport connects over an already constructed transport.
func (c *Client) ConnectTransport(ctx context.Context, t mcpsdk.Transport) error {
	if c.Connected() {
		return nil
	}
	session, err := mcpsdk.NewClient(Implementation, nil).Connect(ctx, t, nil)
	if err != nil {
		return fmt.Errorf("connect to mcp server %s: %w", c.name, err)
	}

	caps := &mcpsdk.ServerCapabilities{}
	if init := session.InitializeResult(); init != nil && init.Capabilities != nil {
		caps = init.Capabilities
	}

	var tools []*mcpsdk.Tool
	if caps.Tools != nil {
		for tool, err := range session.Tools(ctx, nil) {
			if err != nil {
				_ = session.Close()
				return fmt.Errorf("list tools from %s: %w", c.name, err)
			}
			tools = append(tools, tool)
		}
	}

	var resources []*mcpsdk.Resource
	if caps.Resources != nil {
		for r, err := range session.Resources(ctx, nil) {
			if err != nil {
				c.logger.Debugw("Listing resources failed", "error", err)
				break
			}
			resources = append(resources, r)
		}
	}
	var prompts []*mcpsdk.Prompt
	if caps.Prompts != nil {
		for p, err := range session.Prompts(ctx, nil) {
			if err != nil {
				c.logger.Debugw("Listing prompts failed", "error", err)
				break
			}
			prompts = append(prompts, p)
		}
	}

	c.mu.Lock()
	c.session = session
	c.tools = tools
	c.resources = resources
	c.prompts = prompts
	c.mu.Unlock()

	c.logger.Infow("Connected to MCP server",
		"tools", len(tools),
		"resources", len(resources),
		"prompts", len(prompts),
	)
	return nil
}

// Disconnect closes the session. The catalog is cleared.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.tools, c.resources, c.prompts = nil, nil, nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

func (c *Client) live() (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, fmt.Errorf("%s: %w", c.name, ErrNotConnected)
	}
	return c.session, nil
}

func (c *Client) Tools() []*mcpsdk.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*mcpsdk.Tool(nil), c.tools...)
}

func (c *Client) Resources() []*mcpsdk.Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*mcpsdk.Resource(nil), c.resources...)
}

func (c *Client) Prompts() []*mcpsdk.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*mcpsdk.Prompt(nil), c.prompts...)
}

// HasResource reports whether uri was listed by the server at connect time.
func (c *Client) HasResource(uri string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.resources {
		if r.URI == uri {
			return true
		}
	}
	return false
}

func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	session, err := c.live()
	if err != nil {
		return nil, err
	}
	return session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
}

// ReadResource returns the first content block of the resource.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcpsdk.ResourceContents, error) {
	session, err := c.live()
	if err != nil {
		return nil, err
	}
	res, err := session.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	if len(res.Contents) == 0 || res.Contents[0] == nil {
		return nil, fmt.Errorf("resource %s has no content", uri)
	}
	return res.Contents[0], nil
}

// GetPrompt renders a prompt and joins the text of its messages with newlines.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	session, err := c.live()
	if err != nil {
		return "", err
	}
	res, err := session.GetPrompt(ctx, &mcpsdk.GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	var parts []string
	for _, m := range res.Messages {
		if m == nil {
			continue
		}
		if t, ok := m.Content.(*mcpsdk.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}
