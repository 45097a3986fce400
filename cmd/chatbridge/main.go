package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"pkdindustries/chatbridge/internal/bot"
	"pkdindustries/chatbridge/internal/config"
	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/llm"
	"pkdindustries/chatbridge/internal/updates"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		// Print to stderr first in case logger isn't initialized
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "chatbridge",
		Usage:   "one bot, many models",
		Version: bot.Version,
		Flags:   config.GetFlags(),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "connect to Discord and answer mentions, direct messages and triggers",
				Action: serve,
			},
			{
				Name:      "ask",
				Usage:     "run a single completion and print the answer",
				ArgsUsage: "<prompt>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "instruction", Aliases: []string{"i"}, Usage: "system instruction name"},
					&cli.StringSliceFlag{Name: "attach", Aliases: []string{"a"}, Usage: "image URL or data URL sent with the prompt"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "directory for result attachments"},
				},
				Action: ask,
			},
			{
				Name:   "tools",
				Usage:  "list local tools and what each MCP server offers",
				Action: listTools,
			},
			{
				Name:  "config",
				Usage: "print the resolved configuration",
				Action: func(_ context.Context, c *cli.Command) error {
					cfg, err := config.NewConfiguration(c)
					if err != nil {
						return err
					}
					cfg.PrintConfig(c.Root().Writer)
					return nil
				},
			},
		},
	}
}

func serve(ctx context.Context, c *cli.Command) error {
	fmt.Fprintf(c.Root().Writer, "%s\n", bot.GetBanner(bot.Version))
	cfg, err := config.NewConfiguration(c)
	if err != nil {
		return err
	}
	return bot.Run(ctx, cfg)
}

func ask(ctx context.Context, c *cli.Command) error {
	prompt := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if prompt == "" {
		return errors.New("a prompt is required")
	}
	cfg, err := config.NewConfiguration(c)
	if err != nil {
		return err
	}
	core.InitLogger(cfg.Bot.Verbose)
	defer zap.L().Sync()

	sys, err := bot.NewSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer sys.Shutdown()

	emitter := updates.New()
	defer emitter.Close()
	detach := emitter.OnUpdate(func(text string) {
		fmt.Fprintf(c.Root().ErrWriter, "... %s\n", text)
	})

	res, err := sys.Complete(ctx, c.String("model"), c.String("instruction"), []llm.ChatMessage{{
		Role:        llm.RoleUser,
		Content:     prompt,
		Attachments: c.StringSlice("attach"),
	}}, llm.RequestOptions{UserID: "cli", Updates: emitter})
	detach()
	if err != nil {
		return err
	}

	fmt.Fprintln(c.Root().Writer, res.Message.Content)
	return saveAttachments(ctx, sys, c.String("out"), res, c)
}

// saveAttachments writes result attachments into dir, or lists them when no
// directory was given.
func saveAttachments(ctx context.Context, sys *bot.System, dir string, res *llm.ChatCompletionResult, c *cli.Command) error {
	inputs := append([]string(nil), res.Attachments...)
	if res.Message.AudioData != "" {
		inputs = append(inputs, res.Message.AudioData)
	}
	if len(inputs) == 0 {
		return nil
	}
	if dir == "" {
		fmt.Fprintf(c.Root().ErrWriter, "%d attachment(s) returned, use --out to save them\n", len(inputs))
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, in := range inputs {
		f, err := sys.Fetcher().Materialize(ctx, in, fmt.Sprintf("attachment-%d", i+1))
		if err != nil {
			zap.S().Warnw("Dropping attachment", "index", i, "error", err)
			continue
		}
		path := filepath.Join(dir, f.Name)
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(c.Root().ErrWriter, "saved %s\n", path)
	}
	return nil
}

func listTools(ctx context.Context, c *cli.Command) error {
	cfg, err := config.NewConfiguration(c)
	if err != nil {
		return err
	}
	core.InitLogger(cfg.Bot.Verbose)
	defer zap.L().Sync()

	sys, err := bot.NewSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer sys.Shutdown()

	w := c.Root().Writer
	fmt.Fprintf(w, "local: %s\n", strings.Join(sys.Tools().Names(), ", "))

	prompts := sys.MCP().ListPrompts()
	resources := sys.MCP().ListResources()
	for _, server := range sys.MCP().Servers() {
		var names []string
		for _, def := range sys.MCP().ToolsFor([]string{server}).Definitions() {
			names = append(names, def.Name)
		}
		fmt.Fprintf(w, "mcp %s tools: %s\n", server, strings.Join(names, ", "))
		for _, p := range prompts[server] {
			fmt.Fprintf(w, "mcp %s prompt: %s\n", server, p.Name)
		}
		for _, r := range resources[server] {
			fmt.Fprintf(w, "mcp %s resource: %s\n", server, r.URI)
		}
	}
	return nil
}
