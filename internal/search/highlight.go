package search

import (
	"regexp"
	"strings"
)

// PreviewLength is the target character budget for a highlighted
// preview.
const PreviewLength = 150

// HighlightOpen and HighlightClose wrap a matched query-token substring
// inside a preview. Callers rendering to a UI swap these for their own
// markup.
const (
	HighlightOpen  = "⦃"
	HighlightClose = "⦄"
)

var previewWordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// BuildPreview extracts up to PreviewLength characters from content,
// centered on the densest window of query-token matches (a sliding scan
// over match positions); each matched token is wrapped in the highlight
// sentinels. When no token matches, it falls back to the leading
// characters of content.
func BuildPreview(content, query string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return highlightAll(content, queryTokens(query))
	}

	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return string(runes[:PreviewLength])
	}

	positions := matchPositions(runes, tokens)
	if len(positions) == 0 {
		return string(runes[:PreviewLength])
	}

	start := densestWindowStart(positions, len(runes))
	end := start + PreviewLength
	if end > len(runes) {
		end = len(runes)
		start = end - PreviewLength
		if start < 0 {
			start = 0
		}
	}

	window := string(runes[start:end])
	return highlightAll(window, tokens)
}

func queryTokens(query string) []string {
	matches := previewWordRE.FindAllString(strings.ToLower(query), -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// matchPositions returns the rune index of the start of every query
// token occurrence in runes (case-insensitive, substring match).
func matchPositions(runes []rune, tokens []string) []int {
	lower := strings.ToLower(string(runes))
	lowerRunes := []rune(lower)
	var positions []int
	for _, tok := range tokens {
		tr := []rune(tok)
		for i := 0; i+len(tr) <= len(lowerRunes); i++ {
			if runesEqual(lowerRunes[i:i+len(tr)], tr) {
				positions = append(positions, i)
			}
		}
	}
	return positions
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// densestWindowStart finds the window start in [0, total-PreviewLength]
// that contains the most match positions, via a sliding-count scan.
func densestWindowStart(positions []int, total int) int {
	best, bestCount := 0, -1
	maxStart := total - PreviewLength
	if maxStart < 0 {
		maxStart = 0
	}
	lo := 0
	for start := 0; start <= maxStart; start++ {
		end := start + PreviewLength
		for lo < len(positions) && positions[lo] < start {
			lo++
		}
		count := 0
		for i := lo; i < len(positions) && positions[i] < end; i++ {
			count++
		}
		if count > bestCount {
			bestCount = count
			best = start
		}
	}
	return best
}

// highlightAll wraps every case-insensitive occurrence of any token in
// text with the highlight sentinels, longest tokens first so overlapping
// matches don't double-wrap a substring.
func highlightAll(text string, tokens []string) string {
	if len(tokens) == 0 {
		return text
	}
	sorted := append([]string(nil), tokens...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if len(sorted[j]) > len(sorted[i]) {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	runes := []rune(text)
	lower := []rune(strings.ToLower(text))
	var b strings.Builder
	i := 0
	for i < len(runes) {
		matched := false
		for _, tok := range sorted {
			tr := []rune(tok)
			if len(tr) == 0 || i+len(tr) > len(lower) {
				continue
			}
			if runesEqual(lower[i:i+len(tr)], tr) {
				b.WriteString(HighlightOpen)
				b.WriteString(string(runes[i : i+len(tr)]))
				b.WriteString(HighlightClose)
				i += len(tr)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteRune(runes[i])
			i++
		}
	}
	return b.String()
}
