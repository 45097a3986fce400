package discord

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// Trigger routes messages that start with a trigger word to a model and
// system instruction. Empty fields use the configured defaults.
type Trigger struct {
	Model             string
	SystemInstruction string
}

// route is what a message asks for once the address is stripped.
type route struct {
	prompt  string
	trigger Trigger
	word    string
}

// match reports whether m is addressed to the bot: it starts with a trigger
// word, mentions the bot, or arrives as a direct message.
func (h *Handler) match(m *discordgo.Message, botID string) (route, bool) {
	content := strings.TrimSpace(m.Content)
	if word, ok := matchTrigger(content, h.triggerWords); ok {
		return route{
			prompt:  strings.TrimSpace(strings.TrimLeft(stripMention(content[len(word):], botID), ",:;")),
			trigger: h.opts.Triggers[word],
			word:    word,
		}, true
	}
	if m.GuildID == "" || mentions(m, botID) {
		return route{prompt: stripMention(content, botID)}, true
	}
	return route{}, false
}

// matchTrigger finds the longest trigger word that prefixes content as a
// whole word, ignoring case.
func matchTrigger(content string, words []string) (string, bool) {
	for _, w := range words {
		if len(content) < len(w) || !strings.EqualFold(content[:len(w)], w) {
			continue
		}
		rest := content[len(w):]
		if rest == "" {
			return w, true
		}
		r, _ := utf8.DecodeRuneInString(rest)
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return w, true
		}
	}
	return "", false
}

// sortedTriggers orders trigger words longest first so "hey bot" wins over
// "hey".
func sortedTriggers(triggers map[string]Trigger) []string {
	words := make([]string, 0, len(triggers))
	for w := range triggers {
		if w != "" {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})
	return words
}

func mentions(m *discordgo.Message, botID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			return true
		}
	}
	return false
}

func stripMention(content, botID string) string {
	if botID == "" {
		return strings.TrimSpace(content)
	}
	r := strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "")
	return strings.TrimSpace(r.Replace(content))
}
