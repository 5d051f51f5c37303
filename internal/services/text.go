package services

import (
	"strings"

	"github.com/rivo/uniseg"

	"github.com/tbourn/homework-tutor-backend/internal/prompt"
)

// AutoTitleChars is the length of a title derived from the first question.
const AutoTitleChars = 30

// clipGraphemes keeps at most n grapheme clusters of s. n <= 0 keeps all.
func clipGraphemes(s string, n int) string {
	if n <= 0 || uniseg.GraphemeClusterCount(s) <= n {
		return s
	}
	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	for i := 0; i < n && g.Next(); i++ {
		b.WriteString(g.Str())
	}
	return b.String()
}

// autoTitle derives a session title from the first question: whitespace is
// collapsed and anything past AutoTitleChars is replaced by "...".
func autoTitle(content string) string {
	return prompt.Truncate(normalizeTitle(content), AutoTitleChars)
}
