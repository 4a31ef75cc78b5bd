package views

import (
	"strings"
	"unicode"
)

// cleanText prepares peer-supplied text for a tview cell. Control characters
// other than newline and tab are dropped so a message cannot move the cursor
// or emit terminal escapes, bidi overrides are dropped so a name cannot
// render reversed, and emoji joiners and modifiers are stripped because
// tcell measures multi-codepoint emoji at the wrong width.
func cleanText(s string) string {
	return strings.Map(func(r rune) rune {
		if dropRune(r) {
			return -1
		}
		return r
	}, s)
}

// cleanLine is cleanText for single-line cells: newlines and tabs become spaces.
func cleanLine(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return ' '
		case dropRune(r):
			return -1
		}
		return r
	}, s)
}

func dropRune(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case unicode.IsControl(r):
		return true
	case r == unicode.ReplacementChar:
		return true
	// Bidi embeddings, overrides and isolates.
	case r >= 0x202A && r <= 0x202E, r >= 0x2066 && r <= 0x2069:
		return true
	// Skin tone modifiers.
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	// Variation selectors, including the supplement.
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF:
		return true
	}
	return false
}
