package chat

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// EstimateTokens is a deterministic, conservative token-cost heuristic. It
// blends a character-based and a word-based estimate depending on the shape
// of the text, so budget checks fail closed rather than undercounting.
// Blank input costs 0; any non-blank input costs at least 1.
func EstimateTokens(text string) int {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return 0
	}

	charCount := utf8.RuneCountInString(normalized)
	wordCount := len(strings.Fields(normalized))
	specialCount := countSpecialRunes(normalized)

	tokensByChars := float64(charCount) / 3.8
	tokensByWords := float64(wordCount) / 0.73
	tokensBySpecial := float64(specialCount) * 0.8

	var estimated float64
	switch {
	case wordCount > 10:
		estimated = tokensByWords + tokensBySpecial
	case float64(specialCount) > float64(charCount)*0.2:
		estimated = tokensByChars
	default:
		estimated = tokensByWords*0.6 + tokensByChars*0.3 + tokensBySpecial*0.1
	}

	n := int(math.Ceil(estimated))
	if n < 1 {
		n = 1
	}
	return n
}

func countSpecialRunes(text string) int {
	count := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		count++
	}
	return count
}
