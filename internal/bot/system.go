package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"pkdindustries/chatbridge/internal/config"
	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/llm"
	"pkdindustries/chatbridge/internal/mcp"
	"pkdindustries/chatbridge/internal/media"
	"pkdindustries/chatbridge/internal/providers"
	"pkdindustries/chatbridge/internal/tools"
)

var (
	ErrUnknownModel     = errors.New("unknown model")
	ErrUnknownConnector = errors.New("unknown connector")
)

// System owns the long-lived services: the tool registry, the MCP manager
// and one connector per configured endpoint.
type System struct {
	cfg      *config.Configuration
	registry *tools.Registry
	mcp      *mcp.Manager
	fetcher  *media.Fetcher
	logger   *zap.SugaredLogger

	connectors map[string]llm.Connector
}

type Option func(*System)

// WithConnector installs a prebuilt connector under name instead of
// building it from configuration.
func WithConnector(name string, c llm.Connector) Option {
	return func(s *System) { s.connectors[name] = c }
}

// WithMCPManager uses an already initialized manager; configured servers
// are not started.
func WithMCPManager(m *mcp.Manager) Option {
	return func(s *System) { s.mcp = m }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *System) { s.logger = l }
}

func NewSystem(ctx context.Context, cfg *config.Configuration, opts ...Option) (*System, error) {
	s := &System{cfg: cfg, connectors: make(map[string]llm.Connector)}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = core.GetLogger()
	}
	s.fetcher = media.NewFetcher(media.WithLogger(s.logger))

	s.registry = tools.NewRegistry()
	if err := registerLocalTools(s.registry, cfg.Tools, s.logger); err != nil {
		return nil, err
	}
	s.logger.Infow("Loaded tools", "tools", s.registry.Names())

	if s.mcp == nil {
		s.mcp = mcp.NewManager(s.logger)
		if err := s.mcp.Init(ctx, cfg.MCPServers); err != nil {
			// a broken server leaves the others usable
			s.logger.Warnw("Some MCP servers failed to start", "error", err)
		}
	}

	deps := providers.Deps{
		Registry:           s.registry,
		MCP:                s.mcp,
		Fetcher:            s.fetcher,
		Logger:             s.logger,
		ModerationFailOpen: cfg.API != nil && cfg.API.ModerationFailOpen,
	}
	if cfg.Bot != nil {
		deps.Depth = cfg.Bot.Depth
	}
	for _, name := range sortedNames(cfg.Connectors) {
		if _, ok := s.connectors[name]; ok {
			continue
		}
		cc := cfg.Connectors[name]
		d := deps
		d.Name = cc.Name
		conn, err := providers.New(providers.Kind(cc.Kind), cc.ConnectionOptions, d)
		if err != nil {
			_ = s.mcp.Shutdown()
			return nil, fmt.Errorf("connector %s: %w", name, err)
		}
		s.connectors[name] = conn
		s.logger.Infow("Loaded connector", "connector", name, "kind", cc.Kind)
	}
	return s, nil
}

// registerLocalTools enables each local tool whose settings are present.
// Keys name environment variables; a tool whose variable is empty is skipped.
func registerLocalTools(reg *tools.Registry, cfg config.ToolsConfig, logger *zap.SugaredLogger) error {
	secret := func(tool, env string) string {
		if env == "" {
			return ""
		}
		key := llm.ConnectionOptions{APIKey: env}.ResolveAPIKey()
		if key == "" {
			logger.Warnw("Tool disabled, key variable is empty", "tool", tool, "env", env)
		}
		return key
	}

	var local []tools.Tool
	if cfg.SearxngURL != "" {
		local = append(local, tools.NewSearchTool(cfg.SearxngURL, nil))
	}
	if key := secret("wolfram-alpha", cfg.WolframAppID); key != "" {
		local = append(local, tools.NewWolframTool(tools.NewWolframClient(key)))
	}
	if key := secret("gpt_image", cfg.OpenAIKey); key != "" {
		local = append(local, tools.NewOpenAIImageTool(key, cfg.OpenAIURL))
	}
	if key := secret("generate_image", cfg.GeminiKey); key != "" {
		local = append(local, tools.NewImagenTool(key))
	}
	for _, t := range local {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Complete resolves the model, prepends its system instruction (extended
// with the model's MCP prompts) unless messages already carry one, and runs
// the connector under apitimeout.
// An empty model selects the configured default; an empty instruction
// selects the model's default.
func (s *System) Complete(ctx context.Context, model, instruction string, messages []llm.ChatMessage, reqOpts llm.RequestOptions) (*llm.ChatCompletionResult, error) {
	if model == "" && s.cfg.Bot != nil {
		model = s.cfg.Bot.Model
	}
	mc, ok := s.cfg.Models[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	conn, ok := s.connectors[mc.Connector]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, mc.Connector)
	}

	// A request carries at most one system turn: the caller's own first
	// system turn wins over the configured instruction.
	transcript := make([]llm.ChatMessage, 0, len(messages)+1)
	hasSystem := false
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			if hasSystem {
				continue
			}
			hasSystem = true
		}
		transcript = append(transcript, m)
	}
	if text, ok := s.cfg.SystemInstructionFor(model, instruction); ok && !hasSystem {
		if len(mc.Prompts) > 0 {
			text = s.mcp.EnhanceSystemInstruction(ctx, text, mc.Prompts, nil)
		}
		transcript = append([]llm.ChatMessage{{Role: llm.RoleSystem, Content: text}}, transcript...)
	}

	if s.cfg.API != nil && s.cfg.API.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.API.Timeout)
		defer cancel()
	}

	logger := s.logger.With("model", model, "connector", mc.Connector, "user", reqOpts.UserID)
	logger.Infow("Requesting completion", "messages", len(transcript))
	defer core.LogDuration(logger, "completion", time.Now())
	return conn.RequestChatCompletion(ctx, transcript, mc.GenerationOptions, reqOpts)
}

// Models lists configured model names.
func (s *System) Models() []string {
	return sortedNames(s.cfg.Models)
}

func (s *System) DisplayName(model string) string {
	if m, ok := s.cfg.Models[model]; ok && m.DisplayName != "" {
		return m.DisplayName
	}
	return model
}

func (s *System) Tools() *tools.Registry { return s.registry }

func (s *System) MCP() *mcp.Manager { return s.mcp }

func (s *System) Fetcher() *media.Fetcher { return s.fetcher }

// Shutdown disconnects every MCP server.
func (s *System) Shutdown() error {
	return s.mcp.Shutdown()
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
