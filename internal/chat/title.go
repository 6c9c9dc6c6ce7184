package chat

import "strings"

const ellipsis = "..."

// DeriveTitle builds a conversation title from the leading runes of the first
// message. Whitespace runs collapse to single spaces; the ellipsis is only
// added when text was cut.
func DeriveTitle(content string, maxRunes int) string {
	text := strings.Join(strings.Fields(content), " ")
	runes := []rune(text)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return text
	}
	return strings.TrimRight(string(runes[:maxRunes]), " ") + ellipsis
}
