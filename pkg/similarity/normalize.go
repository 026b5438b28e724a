// Package similarity computes a lexical TF-IDF cosine similarity between two
// short documents, used to corroborate model-assigned grades.
package similarity

import (
	"strings"
	"unicode"
)

// Normalize lowercases text, strips every rune that is neither a word rune nor
// whitespace, splits on whitespace and drops stop words. Token order follows
// the input. Empty input yields an empty slice.
func Normalize(text string) []string {
	if text == "" {
		return []string{}
	}

	cleaned := strings.Map(func(r rune) rune {
		if isWordRune(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, strings.ToLower(text))

	fields := strings.Fields(cleaned)
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if field == "" || IsStopWord(field) {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

// Word runes are ASCII letters, ASCII digits and '_'. Accented letters are
// dropped, so "café" normalizes to "caf".
func isWordRune(r rune) bool {
	return r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}
