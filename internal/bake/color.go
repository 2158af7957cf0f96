package bake

import (
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// ParseColor converts a "#rrggbb" or "#rgb" string to 8-bit channels.
// Invalid input yields black and false.
func ParseColor(s string) (r, g, b int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, 0, false
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return 0, 0, 0, false
	}
	r8, g8, b8 := c.RGB255()
	return int(r8), int(g8), int(b8), true
}
