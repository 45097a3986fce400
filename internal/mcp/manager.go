package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/media"
	"pkdindustries/chatbridge/internal/tools"
)

// Manager owns the MCP clients for the lifetime of the process. It is
// created once at startup and shut down explicitly.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*Client
	order   []string
	logger  *zap.SugaredLogger
}

func NewManager(logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Manager{clients: make(map[string]*Client), logger: logger}
}

// Init connects every configured server. Servers that fail are logged and
// skipped; the combined error is returned.
func (m *Manager) Init(ctx context.Context, servers map[string]ServerConfig) error {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := m.InitializeServer(ctx, name, servers[name]); err != nil {
			m.logger.Errorw("Failed to initialize MCP server", "mcp_server", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InitializeServer connects a single server and registers it.
func (m *Manager) InitializeServer(ctx context.Context, name string, cfg ServerConfig) error {
	c := NewClient(name, cfg, m.logger)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	m.AddClient(c)
	return nil
}

// AddClient registers a client, replacing and disconnecting any previous
// client with the same name.
func (m *Manager) AddClient(c *Client) {
	m.mu.Lock()
	prev, exists := m.clients[c.Name()]
	m.clients[c.Name()] = c
	if !exists {
		m.order = append(m.order, c.Name())
	}
	m.mu.Unlock()

	if exists && prev != c {
		_ = prev.Disconnect()
	}
}

// DisconnectServer closes and forgets one server.
func (m *Manager) DisconnectServer(name string) error {
	m.mu.Lock()
	c, ok := m.clients[name]
	if ok {
		delete(m.clients, name)
		for i, n := range m.order {
			if n == name {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("mcp server %s: %w", name, ErrNotConnected)
	}
	return c.Disconnect()
}

// Shutdown disconnects every server.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.order = nil
	m.mu.Unlock()

	var errs []error
	for name, c := range clients {
		if err := c.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Client(name string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[name]
	return c, ok
}

// Servers lists connected servers in registration order.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, name := range m.order {
		if m.clients[name].Connected() {
			out = append(out, name)
		}
	}
	return out
}

func (m *Manager) clientsFor(names []string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Client
	for _, name := range names {
		if c, ok := m.clients[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ToolsFor adapts the tools of the named servers. Unknown servers are skipped.
func (m *Manager) ToolsFor(servers []string) tools.Set {
	var set tools.Set
	for _, c := range m.clientsFor(servers) {
		for _, t := range c.Tools() {
			set = append(set, NewToolAdapter(c, t))
		}
	}
	return set
}

// AllTools adapts the tools of every registered server.
func (m *Manager) AllTools() tools.Set {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()
	return m.ToolsFor(names)
}

// ListResources returns each connected server's resource catalog.
func (m *Manager) ListResources() map[string][]*mcpsdk.Resource {
	out := map[string][]*mcpsdk.Resource{}
	for _, c := range m.clientsFor(m.Servers()) {
		out[c.Name()] = c.Resources()
	}
	return out
}

// ListPrompts returns each connected server's prompt catalog.
func (m *Manager) ListPrompts() map[string][]*mcpsdk.Prompt {
	out := map[string][]*mcpsdk.Prompt{}
	for _, c := range m.clientsFor(m.Servers()) {
		out[c.Name()] = c.Prompts()
	}
	return out
}

// ReadResource asks each connected server in turn; the first to answer wins.
func (m *Manager) ReadResource(ctx context.Context, uri string) (*mcpsdk.ResourceContents, error) {
	clients := m.clientsFor(m.Servers())
	// servers that advertised the URI get asked first
	sort.SliceStable(clients, func(i, j int) bool {
		return clients[i].HasResource(uri) && !clients[j].HasResource(uri)
	})
	for _, c := range clients {
		rc, err := c.ReadResource(ctx, uri)
		if err == nil {
			return rc, nil
		}
		m.logger.Debugw("Resource not served", "mcp_server", c.Name(), "uri", uri, "error", err)
	}
	return nil, fmt.Errorf("resource %s not found in any MCP server", uri)
}

// IsResourceURI reports whether an attachment is a deferred MCP resource.
func (m *Manager) IsResourceURI(s string) bool {
	if strings.HasPrefix(s, "file://") || strings.HasPrefix(s, "resource://") {
		return true
	}
	if media.IsDataURL(s) || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return false
	}
	for _, c := range m.clientsFor(m.Servers()) {
		if c.HasResource(s) {
			return true
		}
	}
	return false
}

// ResolveAttachments inlines MCP resource URIs as data URLs. Anything else,
// and any resource that cannot be read, is passed through unchanged.
func (m *Manager) ResolveAttachments(ctx context.Context, attachments []string) []string {
	out := make([]string, 0, len(attachments))
	for _, a := range attachments {
		if !m.IsResourceURI(a) {
			out = append(out, a)
			continue
		}
		rc, err := m.ReadResource(ctx, a)
		if err != nil {
			m.logger.Warnw("Failed to resolve MCP resource", "uri", a, "error", err)
			out = append(out, a)
			continue
		}
		out = append(out, resourceDataURL(rc))
	}
	return out
}

func resourceDataURL(rc *mcpsdk.ResourceContents) string {
	if rc.Text == "" && len(rc.Blob) > 0 {
		mimeType := rc.MIMEType
		if mimeType == "" {
			mimeType = media.DefaultMIMEType
		}
		return media.Encode(mimeType, rc.Blob)
	}
	return media.Encode("text/plain", []byte(rc.Text))
}

// GetPrompt renders a prompt from the first server that can serve it.
func (m *Manager) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	for _, c := range m.clientsFor(m.Servers()) {
		text, err := c.GetPrompt(ctx, name, args)
		if err == nil {
			return text, nil
		}
		m.logger.Debugw("Prompt not served", "mcp_server", c.Name(), "prompt", name, "error", err)
	}
	return "", fmt.Errorf("prompt %s not found in any MCP server", name)
}

// EnhanceSystemInstruction appends the named prompts to base, separated by
// blank lines. Prompts that fail to render are logged and left out.
func (m *Manager) EnhanceSystemInstruction(ctx context.Context, base string, names []string, args map[string]map[string]string) string {
	out := base
	for _, name := range names {
		text, err := m.GetPrompt(ctx, name, args[name])
		if err != nil {
			m.logger.Warnw("Failed to get MCP prompt", "prompt", name, "error", err)
			continue
		}
		out += "\n\n" + text
	}
	return out
}
