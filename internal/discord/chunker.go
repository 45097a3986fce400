package discord

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the Discord limit for a single message.
const MaxMessageLength = 2000

const fence = "```"

// Chunk splits text into messages of at most max bytes. Splits prefer the
// last newline, then the last space, and fall back to a hard break on a rune
// boundary. A code block cut in two is closed at the end of one chunk and
// reopened at the start of the next.
func Chunk(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 2*len(fence)+2 || max > MaxMessageLength {
		max = MaxMessageLength
	}

	var chunks []string
	open := false
	for text != "" {
		prefix := ""
		if open {
			prefix = fence + "\n"
		}
		if len(prefix)+len(text) <= max {
			chunks = append(chunks, prefix+text)
			break
		}

		cut, next := splitPoint(text, max-len(prefix))
		piece := prefix + text[:cut]
		if strings.Count(piece, fence)%2 != 0 {
			// leave room to close the block
			cut, next = splitPoint(text, max-len(prefix)-len(fence)-1)
			piece = prefix + text[:cut]
		}
		open = strings.Count(piece, fence)%2 != 0
		if open {
			piece += "\n" + fence
		}
		chunks = append(chunks, piece)
		text = text[next:]
	}
	return chunks
}

// splitPoint finds where to end a chunk of at most n bytes. It returns the
// end of the chunk and the start of the remainder.
func splitPoint(s string, n int) (int, int) {
	if n >= len(s) {
		return len(s), len(s)
	}
	window := s[:n]
	if idx := strings.LastIndexByte(window, '\n'); idx > 0 {
		return idx, idx + 1
	}
	if idx := strings.LastIndexByte(window, ' '); idx > 0 {
		return idx, idx + 1
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		cut = n
	}
	return cut, cut
}
