package pipeline

import (
	"strings"
	"unicode"
)

// fillerConnectives are words a generated title must not begin with even
// when the first rune is a letter; these read as truncated sentence
// fragments rather than titles.
var fillerConnectives = []string{
	"and", "but", "or", "so", "because", "however", "therefore",
	"this", "that", "these", "those", "here", "there",
}

// minTitleLen and maxTitleLen bound an accepted generated title;
// anything outside falls back to the parser's title or the filename
// stem.
const (
	minTitleLen = 4
	maxTitleLen = 80
)

// validateTitle reports whether a Generator-proposed title is usable:
// length within bounds, containing at least one letter or CJK
// character, and not opening with punctuation or a filler connective.
func validateTitle(title string) bool {
	trimmed := strings.TrimSpace(title)
	n := len([]rune(trimmed))
	if n < minTitleLen || n > maxTitleLen {
		return false
	}

	first := []rune(trimmed)[0]
	if unicode.IsPunct(first) || unicode.IsSymbol(first) {
		return false
	}

	hasLetter := false
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return false
	}

	firstWord := strings.ToLower(strings.FieldsFunc(trimmed, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})[0])
	for _, filler := range fillerConnectives {
		if firstWord == filler {
			return false
		}
	}

	return true
}

// filenameStem strips a trailing extension and path separators, used as
// the title fallback when no parser- or generator-provided title
// passes validation.
func filenameStem(filename string) string {
	name := filename
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	return name
}
