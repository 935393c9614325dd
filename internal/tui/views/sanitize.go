package views

import "strings"

// Message bodies and sender labels arrive from the server unfiltered, and
// tview miscalculates cell widths for some multi-codepoint emoji sequences,
// corrupting the thread layout. sanitizeForTerminal drops the codepoints
// that combine with their neighbors: skin tone modifiers, the zero width
// joiner, and variation selectors. A thumbs-up with a tone modifier renders
// as the plain thumbs-up instead of garbage.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if combinesWithNeighbor(r) {
			return -1
		}
		return r
	}, s)
}

func combinesWithNeighbor(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F: // variation selectors
		return true
	case r >= 0xE0100 && r <= 0xE01EF: // variation selectors supplement
		return true
	default:
		return false
	}
}
