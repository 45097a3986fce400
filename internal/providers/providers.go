// Package providers builds connectors from configuration.
package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/llm"
	"pkdindustries/chatbridge/internal/mcp"
	"pkdindustries/chatbridge/internal/media"
	"pkdindustries/chatbridge/internal/moderation"
	"pkdindustries/chatbridge/internal/providers/anthropic"
	"pkdindustries/chatbridge/internal/providers/google"
	"pkdindustries/chatbridge/internal/providers/openai"
	"pkdindustries/chatbridge/internal/providers/perplexity"
	"pkdindustries/chatbridge/internal/providers/wolfram"
	"pkdindustries/chatbridge/internal/tools"
)

// Kind selects the wire protocol a connector speaks.
type Kind string

const (
	KindOpenAI     Kind = "openai"
	KindAnthropic  Kind = "anthropic"
	KindGoogle     Kind = "google"
	KindPerplexity Kind = "perplexity"
	KindWolfram    Kind = "wolfram"
)

var ErrUnknownKind = errors.New("unknown connector kind")

// Kinds lists every supported connector kind.
func Kinds() []Kind {
	return []Kind{KindOpenAI, KindAnthropic, KindGoogle, KindPerplexity, KindWolfram}
}

// Deps are the shared services connectors draw on. Every field is optional.
type Deps struct {
	Registry *tools.Registry
	MCP      *mcp.Manager
	Fetcher  *media.Fetcher
	HTTP     *http.Client
	Logger   *zap.SugaredLogger
	// Name overrides the provider label used in progress updates.
	Name string
	// Depth overrides the number of tool rounds; zero keeps the default.
	Depth              int
	ModerationFailOpen bool
}

// New builds the connector for kind. Tool-capable kinds come back wrapped in
// an llm.Orchestrator with their local and MCP tools attached.
func New(kind Kind, opts llm.ConnectionOptions, deps Deps) (llm.Connector, error) {
	if deps.Logger == nil {
		deps.Logger = core.GetLogger()
	}
	if deps.Fetcher == nil {
		deps.Fetcher = media.NewFetcher(media.WithLogger(deps.Logger))
	}
	apiKey := opts.ResolveAPIKey()

	endpoint := opts.URL
	var dialect llm.Dialect
	switch Kind(strings.ToLower(string(kind))) {
	case KindOpenAI:
		if endpoint == "" {
			endpoint = openai.DefaultURL
		}
		dialect = openai.New(openai.Config{Name: deps.Name, URL: endpoint, APIKey: apiKey, HTTP: deps.HTTP})
	case KindAnthropic:
		dialect = anthropic.New(anthropic.Config{Name: deps.Name, URL: opts.URL, APIKey: apiKey, Fetcher: deps.Fetcher, Logger: deps.Logger})
	case KindGoogle:
		dialect = google.New(google.Config{Name: deps.Name, URL: opts.URL, APIKey: apiKey, HTTP: deps.HTTP, Fetcher: deps.Fetcher, Logger: deps.Logger})
	case KindPerplexity:
		dialect = perplexity.New(perplexity.Config{Name: deps.Name, URL: opts.URL, APIKey: apiKey, HTTP: deps.HTTP})
	case KindWolfram:
		client := tools.NewWolframClient(apiKey)
		if opts.URL != "" {
			client.Endpoint = opts.URL
		}
		if deps.HTTP != nil {
			client.HTTP = deps.HTTP
		}
		return wolfram.New(client), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	set := ToolSet(opts, deps)
	orchOpts := []llm.OrchestratorOption{
		llm.WithTools(set),
		llm.WithLogger(deps.Logger),
		llm.WithModerator(gate(endpoint, apiKey, deps)),
	}
	if deps.MCP != nil {
		orchOpts = append(orchOpts, llm.WithResolver(deps.MCP))
	}
	if deps.Depth > 0 {
		orchOpts = append(orchOpts, llm.WithDepth(deps.Depth))
	}
	deps.Logger.Debugw("Connector built", "kind", kind, "provider", dialect.Name(), "tools", len(set))
	return llm.NewOrchestrator(dialect, orchOpts...), nil
}

// ToolSet gathers the configured local tools followed by the tools of the
// configured MCP servers. Unknown names are logged and skipped.
func ToolSet(opts llm.ConnectionOptions, deps Deps) tools.Set {
	var set tools.Set
	if deps.Registry != nil {
		set = append(set, deps.Registry.Select(opts.Tools)...)
		for _, name := range opts.Tools {
			if _, ok := deps.Registry.Get(name); !ok && deps.Logger != nil {
				deps.Logger.Warnw("Unknown tool in connector config", "tool", name)
			}
		}
	}
	if deps.MCP != nil && len(opts.MCPServers) > 0 {
		set = append(set, deps.MCP.ToolsFor(opts.MCPServers)...)
	}
	return set
}

func gate(url, apiKey string, deps Deps) *moderation.Gate {
	opts := []moderation.Option{moderation.WithLogger(deps.Logger), moderation.WithHTTPClient(deps.HTTP)}
	if deps.ModerationFailOpen {
		opts = append(opts, moderation.WithFailOpen())
	}
	return moderation.NewGate(url, apiKey, opts...)
}
