// Package discord is the Discord front-end: it answers mentions, direct
// messages and trigger words with completions.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

var _ Session = (*discordgo.Session)(nil)

// Serve connects with the bot token and dispatches messages to h until ctx
// is cancelled.
func Serve(ctx context.Context, token string, h *Handler) error {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	dg.Identify.Intents = intents

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		h.logger.Infow("Connected to Discord", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if s.State == nil || s.State.User == nil {
			return
		}
		h.Handle(ctx, s, s.State.User.ID, m.Message)
	})

	if err := dg.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	<-ctx.Done()
	h.logger.Info("Closing Discord session")
	return dg.Close()
}
