package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"pkdindustries/chatbridge/internal/llm"
	"pkdindustries/chatbridge/internal/mcp"
)

const EnvPrefix = "CHATBRIDGE_"

var ErrInvalidConfig = errors.New("invalid configuration")

type Configuration struct {
	Bot     *BotConfig
	Discord *DiscordConfig
	API     *APIConfig

	Connectors         map[string]ConnectorConfig
	Models             map[string]ModelConfig
	SystemInstructions map[string]string
	MCPServers         map[string]mcp.ServerConfig
	Tools              ToolsConfig
	// Triggers map a message prefix such as "hey" to the model it invokes.
	Triggers           map[string]TriggerConfig
}

type BotConfig struct {
	Verbose bool
	// Model names the entry in Models used when none is given.
	Model             string
	SystemInstruction string
	Depth             int
}

type DiscordConfig struct {
	Token          string
	History        int
	ChunkMax       int
	StatusInterval time.Duration
}

type APIConfig struct {
	Timeout            time.Duration
	ModerationFailOpen bool
}

// ConnectorConfig is one provider endpoint. Kind picks the wire protocol.
type ConnectorConfig struct {
	Kind              string                `yaml:"kind"`
	Name              string                `yaml:"name"`
	ConnectionOptions llm.ConnectionOptions `yaml:"connectionOptions"`
}

type ModelConfig struct {
	Connector                string `yaml:"connector"`
	DisplayName              string `yaml:"displayName"`
	DefaultSystemInstruction string `yaml:"defaultSystemInstruction"`
	// Prompts are MCP prompt names appended to the system instruction.
	Prompts           []string              `yaml:"prompts"`
	GenerationOptions llm.GenerationOptions `yaml:"generationOptions"`
}

// ToolsConfig holds the settings of the local tools. Key fields name
// environment variables, like llm.ConnectionOptions.APIKey.
type ToolsConfig struct {
	SearxngURL   string `yaml:"searxng"`
	WolframAppID string `yaml:"wolframAppId"`
	OpenAIKey    string `yaml:"openaiKey"`
	OpenAIURL    string `yaml:"openaiUrl"`
	GeminiKey    string `yaml:"geminiKey"`
}

// TriggerConfig selects the model and instruction for messages starting
// with a trigger word. Empty fields fall back to the defaults.
type TriggerConfig struct {
	Model             string `yaml:"model"`
	SystemInstruction string `yaml:"systemInstruction"`
}

// sections are the structured parts of the config file that have no flag.
type sections struct {
	Connectors         map[string]ConnectorConfig  `yaml:"connectors"`
	Models             map[string]ModelConfig      `yaml:"models"`
	SystemInstructions map[string]string           `yaml:"systemInstructions"`
	MCPServers         map[string]mcp.ServerConfig `yaml:"mcpServers"`
	Tools              ToolsConfig                 `yaml:"tools"`
	Triggers           map[string]TriggerConfig    `yaml:"triggers"`
}

// YamlSource implements cli.ValueSource for a map loaded from YAML
type YamlSource struct {
	data map[string]any
	key  string
}

func (y *YamlSource) Lookup() (string, bool) {
	v, ok := y.data[y.key]
	if !ok || v == nil {
		return "", false
	}
	if slice, ok := v.([]any); ok {
		strs := make([]string, 0, len(slice))
		for _, item := range slice {
			strs = append(strs, fmt.Sprintf("%v", item))
		}
		return strings.Join(strs, ","), true
	}
	return fmt.Sprintf("%v", v), true
}

func (y *YamlSource) String() string   { return "yaml" }
func (y *YamlSource) GoString() string { return "yaml" }

func env(name string) string { return EnvPrefix + strings.ToUpper(name) }

// GetFlags returns the global flags. Each value resolves EnvVar > YAML > default.
func GetFlags() []cli.Flag {
	return flagsFor(readConfigData(getConfigPath(os.Args)))
}

func flagsFor(configData map[string]any) []cli.Flag {
	src := func(key string) cli.ValueSourceChain {
		chain := cli.ValueSourceChain{}
		chain.Chain = append(chain.Chain, cli.EnvVar(env(key)))
		if configData != nil {
			chain.Chain = append(chain.Chain, &YamlSource{data: configData, key: key})
		}
		return chain
	}

	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"b"}, Usage: "use the named configuration file", Sources: cli.EnvVars(env("config"))},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"V"}, Usage: "enable verbose logging", Sources: src("verbose")},

		// Completion
		&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model configuration used when none is given", Sources: src("model")},
		&cli.StringFlag{Name: "systeminstruction", Usage: "system instruction name used when the model has no default", Value: "default", Sources: src("systeminstruction")},
		&cli.IntFlag{Name: "depth", Value: llm.DefaultDepth, Usage: "maximum number of tool-calling rounds", Sources: src("depth")},
		&cli.DurationFlag{Name: "apitimeout", Aliases: []string{"t"}, Value: time.Minute * 5, Usage: "timeout for each completion request", Sources: src("apitimeout")},
		&cli.BoolFlag{Name: "moderationfailopen", Usage: "allow messages through when the moderation endpoint is unreachable", Sources: src("moderationfailopen")},

		// Discord
		&cli.StringFlag{Name: "discordtoken", Usage: "discord bot token", Sources: src("discordtoken")},
		&cli.IntFlag{Name: "history", Aliases: []string{"H"}, Value: 10, Usage: "number of previous channel messages sent as context", Sources: src("history")},
		&cli.IntFlag{Name: "chunkmax", Value: 2000, Usage: "maximum number of characters to send as a single message", Sources: src("chunkmax")},
		&cli.DurationFlag{Name: "statusinterval", Value: time.Second, Usage: "minimum time between status message edits", Sources: src("statusinterval")},
	}
}

func readConfigData(path string) map[string]any {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read config file %s: %v\n", path, err)
		return nil
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", path, err)
		return nil
	}
	return out
}

func getConfigPath(args []string) string {
	if v := os.Getenv(env("config")); v != "" {
		return v
	}
	for i, arg := range args {
		if arg == "--config" || arg == "-b" {
			if i+1 < len(args) {
				return args[i+1]
			}
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

// LoadSections decodes the structured sections of a config file.
func LoadSections(r io.Reader, cfg *Configuration) error {
	var s sections
	if err := yaml.NewDecoder(r).Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	cfg.Connectors = s.Connectors
	cfg.Models = s.Models
	cfg.SystemInstructions = s.SystemInstructions
	cfg.MCPServers = s.MCPServers
	cfg.Tools = s.Tools
	cfg.Triggers = s.Triggers
	return nil
}

func NewConfiguration(c *cli.Command) (*Configuration, error) {
	cfg := &Configuration{
		Bot: &BotConfig{
			Verbose:           c.Bool("verbose"),
			Model:             c.String("model"),
			SystemInstruction: c.String("systeminstruction"),
			Depth:             c.Int("depth"),
		},
		Discord: &DiscordConfig{
			Token:          c.String("discordtoken"),
			History:        c.Int("history"),
			ChunkMax:       c.Int("chunkmax"),
			StatusInterval: c.Duration("statusinterval"),
		},
		API: &APIConfig{
			Timeout:            c.Duration("apitimeout"),
			ModerationFailOpen: c.Bool("moderationfailopen"),
		},
	}

	if path := c.String("config"); path != "" {
		zap.S().Infow("Using config file", "path", path)
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := LoadSections(f, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks that models reference known connectors and instructions.
func (c *Configuration) Validate() error {
	var errs []error
	for _, name := range sortedKeys(c.Models) {
		m := c.Models[name]
		if _, ok := c.Connectors[m.Connector]; !ok {
			errs = append(errs, fmt.Errorf("model %q: unknown connector %q", name, m.Connector))
		}
		if m.GenerationOptions.Model() == "" {
			errs = append(errs, fmt.Errorf("model %q: generationOptions.model is required", name))
		}
		if m.DefaultSystemInstruction != "" {
			if _, ok := c.SystemInstructions[m.DefaultSystemInstruction]; !ok {
				errs = append(errs, fmt.Errorf("model %q: unknown system instruction %q", name, m.DefaultSystemInstruction))
			}
		}
	}
	for _, name := range sortedKeys(c.Connectors) {
		if c.Connectors[name].Kind == "" {
			errs = append(errs, fmt.Errorf("connector %q: kind is required", name))
		}
	}
	for _, name := range sortedKeys(c.Triggers) {
		t := c.Triggers[name]
		if _, ok := c.Models[t.Model]; t.Model != "" && !ok {
			errs = append(errs, fmt.Errorf("trigger %q: unknown model %q", name, t.Model))
		}
		if _, ok := c.SystemInstructions[t.SystemInstruction]; t.SystemInstruction != "" && !ok {
			errs = append(errs, fmt.Errorf("trigger %q: unknown system instruction %q", name, t.SystemInstruction))
		}
	}
	if c.Bot != nil && c.Bot.Model != "" && len(c.Models) > 0 {
		if _, ok := c.Models[c.Bot.Model]; !ok {
			errs = append(errs, fmt.Errorf("default model %q is not configured", c.Bot.Model))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// SystemInstructionFor resolves the instruction for a model: the explicit
// name, then the model default, then the global default.
func (c *Configuration) SystemInstructionFor(model, name string) (string, bool) {
	if name == "" {
		name = c.Models[model].DefaultSystemInstruction
	}
	if name == "" && c.Bot != nil {
		name = c.Bot.SystemInstruction
	}
	s, ok := c.SystemInstructions[name]
	return s, ok
}

func mask(secret string) string {
	if len(secret) > 3 {
		return strings.Repeat("*", len(secret)-3) + secret[len(secret)-3:]
	}
	return secret
}

func (c *Configuration) PrintConfig(w io.Writer) {
	fmt.Fprintf(w, "verbose: %t\n", c.Bot.Verbose)
	fmt.Fprintf(w, "model: %s\n", c.Bot.Model)
	fmt.Fprintf(w, "systeminstruction: %s\n", c.Bot.SystemInstruction)
	fmt.Fprintf(w, "depth: %d\n", c.Bot.Depth)
	fmt.Fprintf(w, "apitimeout: %s\n", c.API.Timeout)
	fmt.Fprintf(w, "moderationfailopen: %t\n", c.API.ModerationFailOpen)
	fmt.Fprintf(w, "discordtoken: %s\n", mask(c.Discord.Token))
	fmt.Fprintf(w, "history: %d\n", c.Discord.History)
	fmt.Fprintf(w, "chunkmax: %d\n", c.Discord.ChunkMax)
	fmt.Fprintf(w, "statusinterval: %s\n", c.Discord.StatusInterval)

	for _, name := range sortedKeys(c.Connectors) {
		conn := c.Connectors[name]
		fmt.Fprintf(w, "connector %s: kind=%s url=%s apikey=$%s tools=%v mcp=%v\n",
			name, conn.Kind, conn.ConnectionOptions.URL, conn.ConnectionOptions.APIKey,
			conn.ConnectionOptions.Tools, conn.ConnectionOptions.MCPServers)
	}
	for _, name := range sortedKeys(c.Models) {
		m := c.Models[name]
		fmt.Fprintf(w, "model %s: connector=%s model=%s instruction=%s\n",
			name, m.Connector, m.GenerationOptions.Model(), m.DefaultSystemInstruction)
	}
	for _, name := range sortedKeys(c.Triggers) {
		t := c.Triggers[name]
		fmt.Fprintf(w, "trigger %s: model=%s instruction=%s\n", name, t.Model, t.SystemInstruction)
	}
	for _, name := range sortedKeys(c.MCPServers) {
		s := c.MCPServers[name]
		fmt.Fprintf(w, "mcp %s: transport=%s command=%s url=%s\n", name, s.Transport, s.Command, s.URL)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
