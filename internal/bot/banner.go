package bot

import (
	"fmt"
	"strings"

	"github.com/mazznoer/colorgrad"
)

const Version = "0.1.0"

// GetBanner returns the startup banner shaded left to right.
func GetBanner(version string) string {
	banner := `
      _           _   _          _     _
  ___| |__   __ _| |_| |__  _ __(_) __| | __ _  ___
 / __| '_ \ / _' | __| '_ \| '__| |/ _' |/ _' |/ _ \
| (__| | | | (_| | |_| |_) | |  | | (_| | (_| |  __/
 \___|_| |_|\__,_|\__|_.__/|_|  |_|\__,_|\__, |\___|
 .  .  .  one  bot,  many  models  [v` + version + `]   |___/
`
	grad, err := colorgrad.NewGradient().
		HtmlColors("#7289daff", "#fdfdfdff").
		Build()
	if err != nil {
		return banner
	}

	lines := strings.Split(banner, "\n")
	width := 0
	for _, line := range lines {
		width = max(width, len(line))
	}

	colors := grad.Colors(uint(width))
	var b strings.Builder
	for _, line := range lines {
		for i, ch := range line {
			r, g, bl, _ := colors[i].RGBA255()
			fmt.Fprintf(&b, "\x1b[38;2;%d;%d;%dm%c", r, g, bl, ch)
		}
		b.WriteString("\x1b[0m\n")
	}
	return b.String()
}
