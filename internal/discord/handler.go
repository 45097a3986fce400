package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/llm"
	"pkdindustries/chatbridge/internal/media"
	"pkdindustries/chatbridge/internal/updates"
)

const (
	ThinkingText   = "Thinking..."
	FailureText    = "Sorry, something went wrong while generating a response."
	ModeratedText  = "Sorry, that message was flagged by moderation and was not sent."
	BusyText       = "Still working on an earlier request in this channel, try again shortly."
	EmptyText      = "(no response)"
	AttachmentText = "Attached:"

	typingInterval     = 8 * time.Second
	defaultLockTimeout = 5 * time.Minute
	// the API returns at most 100 messages per page
	maxHistory         = 100
)

// Session is the part of *discordgo.Session the handler uses.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// Completer runs one completion. An empty model or instruction selects the
// configured default.
type Completer interface {
	Complete(ctx context.Context, model, instruction string, messages []llm.ChatMessage, reqOpts llm.RequestOptions) (*llm.ChatCompletionResult, error)
}

// Materializer turns result attachments into uploadable files.
type Materializer interface {
	Materialize(ctx context.Context, input, basename string) (*media.File, error)
}

type Options struct {
	// History is how many earlier channel messages are sent as context.
	History        int
	ChunkMax       int
	StatusInterval time.Duration
	// LockTimeout bounds the wait for an earlier request in the same channel.
	LockTimeout    time.Duration
	Triggers       map[string]Trigger
}

// Handler answers Discord messages addressed to the bot.
type Handler struct {
	completer    Completer
	files        Materializer
	opts         Options
	triggerWords []string
	locks        *core.Locks
	logger       *zap.SugaredLogger
}

func NewHandler(completer Completer, files Materializer, opts Options, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = core.GetLogger()
	}
	if opts.ChunkMax <= 0 {
		opts.ChunkMax = MaxMessageLength
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	return &Handler{
		completer:    completer,
		files:        files,
		opts:         opts,
		triggerWords: sortedTriggers(opts.Triggers),
		locks:        core.NewLocks(logger),
		logger:       logger,
	}
}

// Handle processes one incoming message. Requests in the same channel are
// answered one at a time.
func (h *Handler) Handle(ctx context.Context, s Session, botID string, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == botID {
		return
	}
	rt, ok := h.match(m, botID)
	if !ok {
		return
	}
	images := imageAttachments(m)
	if rt.prompt == "" && len(images) == 0 {
		return
	}

	logger := core.WithChannel(h.logger, m.ChannelID, m.Author.ID)
	logger.Infow("Message received", "trigger", rt.word, "attachments", len(images))

	waitCtx, cancel := context.WithTimeout(ctx, h.opts.LockTimeout)
	defer cancel()
	h.locks.With(waitCtx, m.ChannelID, "respond",
		func() { h.respond(ctx, s, botID, m, rt, images, logger) },
		func() { h.reply(s, m, BusyText, logger) },
	)
}

func (h *Handler) respond(ctx context.Context, s Session, botID string, m *discordgo.Message, rt route, images []string, logger *zap.SugaredLogger) {
	status := h.reply(s, m, ThinkingText, logger)
	if status == nil {
		return
	}
	stopTyping := h.keepTyping(ctx, s, m.ChannelID)
	defer stopTyping()

	messages := h.history(s, botID, m, logger)
	messages = append(messages, llm.ChatMessage{
		Role:        llm.RoleUser,
		Content:     rt.prompt,
		Attachments: images,
	})

	emitter := updates.New()
	defer emitter.Close()
	throttle := &rate.Sometimes{Interval: h.opts.StatusInterval}
	if h.opts.StatusInterval <= 0 {
		throttle.Every = 1
	}
	detach := emitter.OnUpdate(func(text string) {
		throttle.Do(func() { h.edit(s, status, "*"+clip(text, MaxMessageLength-2)+"*", logger) })
	})

	res, err := h.completer.Complete(ctx, rt.trigger.Model, rt.trigger.SystemInstruction, messages, llm.RequestOptions{
		UserID:  m.Author.ID,
		Updates: emitter,
	})
	detach()
	if err != nil {
		logger.Errorw("Completion failed", "error", err)
		h.edit(s, status, failureText(err), logger)
		return
	}
	h.deliver(ctx, s, m, status, res, logger)
}

// deliver replaces the status message with the first chunk of the answer
// and sends the remaining chunks and any files as replies.
func (h *Handler) deliver(ctx context.Context, s Session, m *discordgo.Message, status *discordgo.Message, res *llm.ChatCompletionResult, logger *zap.SugaredLogger) {
	chunks := Chunk(res.Message.Content, h.opts.ChunkMax)
	files := h.materialize(ctx, res, logger)

	switch {
	case len(chunks) > 0:
		h.edit(s, status, chunks[0], logger)
		chunks = chunks[1:]
	case len(files) > 0:
		h.edit(s, status, AttachmentText, logger)
	default:
		h.edit(s, status, EmptyText, logger)
	}

	for _, chunk := range chunks {
		h.send(s, m, &discordgo.MessageSend{Content: chunk}, logger)
	}
	if len(files) > 0 {
		h.send(s, m, &discordgo.MessageSend{Files: files}, logger)
	}
}

func (h *Handler) materialize(ctx context.Context, res *llm.ChatCompletionResult, logger *zap.SugaredLogger) []*discordgo.File {
	inputs := append([]string(nil), res.Attachments...)
	if res.Message.AudioData != "" {
		inputs = append(inputs, res.Message.AudioData)
	}
	if h.files == nil || len(inputs) == 0 {
		return nil
	}

	var files []*discordgo.File
	for i, in := range inputs {
		f, err := h.files.Materialize(ctx, in, fmt.Sprintf("attachment-%d", i+1))
		if err != nil {
			logger.Warnw("Dropping attachment", "index", i, "error", err)
			continue
		}
		files = append(files, &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      bytes.NewReader(f.Data),
		})
	}
	return files
}

// history returns earlier channel messages, oldest first. The bot's own
// messages become assistant turns.
func (h *Handler) history(s Session, botID string, m *discordgo.Message, logger *zap.SugaredLogger) []llm.ChatMessage {
	limit := min(h.opts.History, maxHistory)
	if limit <= 0 {
		return nil
	}
	prev, err := s.ChannelMessages(m.ChannelID, limit, m.ID, "", "")
	if err != nil {
		logger.Warnw("Failed to read channel history", "error", err)
		return nil
	}

	out := make([]llm.ChatMessage, 0, len(prev))
	for i := len(prev) - 1; i >= 0; i-- {
		p := prev[i]
		if p.Author == nil {
			continue
		}
		msg := llm.ChatMessage{Role: llm.RoleUser, Content: stripMention(p.Content, botID), Attachments: imageAttachments(p)}
		if p.Author.ID == botID {
			if p.Content == ThinkingText {
				continue
			}
			msg = llm.ChatMessage{Role: llm.RoleAssistant, Content: p.Content}
		}
		if msg.Content == "" && len(msg.Attachments) == 0 {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// keepTyping refreshes the typing indicator until the returned function is
// called.
func (h *Handler) keepTyping(ctx context.Context, s Session, channelID string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	_ = s.ChannelTyping(channelID)
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = s.ChannelTyping(channelID)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (h *Handler) reply(s Session, m *discordgo.Message, content string, logger *zap.SugaredLogger) *discordgo.Message {
	return h.send(s, m, &discordgo.MessageSend{Content: content}, logger)
}

func (h *Handler) send(s Session, m *discordgo.Message, data *discordgo.MessageSend, logger *zap.SugaredLogger) *discordgo.Message {
	data.Reference = m.Reference()
	data.AllowedMentions = &discordgo.MessageAllowedMentions{}
	sent, err := s.ChannelMessageSendComplex(m.ChannelID, data)
	if err != nil {
		logger.Errorw("Failed to send message", "error", err)
		return nil
	}
	return sent
}

func (h *Handler) edit(s Session, status *discordgo.Message, content string, logger *zap.SugaredLogger) {
	if strings.TrimSpace(content) == "" {
		return
	}
	if _, err := s.ChannelMessageEdit(status.ChannelID, status.ID, content); err != nil {
		logger.Warnw("Failed to edit status message", "error", err)
	}
}

// imageAttachments returns the URLs of attachments with an image content type.
func imageAttachments(m *discordgo.Message) []string {
	var urls []string
	for _, a := range m.Attachments {
		if a != nil && strings.HasPrefix(a.ContentType, "image/") {
			urls = append(urls, a.URL)
		}
	}
	return urls
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

func failureText(err error) string {
	if errors.Is(err, llm.ErrModerationRejected) {
		return ModeratedText
	}
	return FailureText
}
