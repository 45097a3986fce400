package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pkdindustries/chatbridge/internal/config"
	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/discord"
)

const (
	maxRetries     = 5
	reconnectDelay = 5 * time.Second
)

// Run assembles the system and serves Discord until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Configuration) error {
	core.InitLogger(cfg.Bot.Verbose)
	defer zap.L().Sync()

	if cfg.Discord == nil || cfg.Discord.Token == "" {
		return fmt.Errorf("%w: discordtoken is required", config.ErrInvalidConfig)
	}

	sys, err := NewSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sys.Shutdown(); err != nil {
			zap.S().Warnw("MCP shutdown", "error", err)
		}
	}()

	handler := discord.NewHandler(sys, sys.Fetcher(), DiscordOptions(cfg), zap.S())

	// Reconnect loop
	for i := range maxRetries {
		if ctx.Err() != nil {
			return nil
		}
		zap.S().Infow("Connecting to Discord", "attempt", i+1, "models", sys.Models())

		if err := discord.Serve(ctx, cfg.Discord.Token, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zap.S().Errorw("Connection failed", "error", err)
			zap.S().Infof("Reconnecting in %s (attempt %d/%d)", reconnectDelay, i+1, maxRetries)

			select {
			case <-time.After(reconnectDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	}

	return fmt.Errorf("failed to connect after %d attempts", maxRetries)
}

// DiscordOptions maps configuration onto the front-end's options.
func DiscordOptions(cfg *config.Configuration) discord.Options {
	opts := discord.Options{Triggers: make(map[string]discord.Trigger, len(cfg.Triggers))}
	if cfg.Discord != nil {
		opts.History = cfg.Discord.History
		opts.ChunkMax = cfg.Discord.ChunkMax
		opts.StatusInterval = cfg.Discord.StatusInterval
	}
	if cfg.API != nil {
		opts.LockTimeout = cfg.API.Timeout
	}
	for word, t := range cfg.Triggers {
		opts.Triggers[strings.ToLower(word)] = discord.Trigger{Model: t.Model, SystemInstruction: t.SystemInstruction}
	}
	return opts
}
