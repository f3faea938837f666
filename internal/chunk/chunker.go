package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// headingRE matches an H1-H3 Markdown heading line.
var headingRE = regexp.MustCompile(`(?m)^(#{1,3})[ \t]+\S.*$`)

// Chunker splits normalized text into ordered, overlapping segments.
type Chunker struct {
	opts Options
}

// New constructs a Chunker. Zero-value fields in opts take the package
// defaults (800/150).
func New(opts Options) *Chunker {
	return &Chunker{opts: opts.WithDefaults()}
}

// Chunk splits text structurally: Markdown H1-H3 headings first partition the
// text into sections (each section begins with its own heading line);
// sections that already fit within ChunkSize become single chunks
// verbatim, oversized sections are split recursively at natural
// boundaries with overlap. The returned spans are in reading order, cover
// every non-whitespace character of a non-empty input at least once, and
// are renumbered 0..n-1.
func (c *Chunker) Chunk(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sections := splitSections(text)
	var spans []Span
	for _, sec := range sections {
		if len([]rune(sec.content)) <= c.opts.ChunkSize {
			if s, ok := trimSpan(sec.content, sec.offset); ok {
				spans = append(spans, s)
			}
			continue
		}
		spans = append(spans, c.splitSection(sec.content, sec.offset)...)
	}

	out := make([]Span, 0, len(spans))
	for i, s := range spans {
		s.Index = i
		out = append(out, s)
	}
	return out
}

type rawSection struct {
	content string
	offset  int // character offset of content[0] within the original text
}

// splitSections partitions text at each H1-H3 heading line; the run of
// text preceding the first heading (if any) is its own leading section.
func splitSections(text string) []rawSection {
	locs := headingRE.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []rawSection{{content: text, offset: 0}}
	}

	runes := []rune(text)
	byteToRune := byteOffsetToRuneOffset(text)

	var sections []rawSection
	starts := make([]int, 0, len(locs)+1)
	for _, loc := range locs {
		starts = append(starts, byteToRune[loc[0]])
	}

	if starts[0] > 0 {
		sections = append(sections, rawSection{content: string(runes[0:starts[0]]), offset: 0})
	}
	for i, start := range starts {
		end := len(runes)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		sections = append(sections, rawSection{content: string(runes[start:end]), offset: start})
	}
	return sections
}

// byteOffsetToRuneOffset maps every byte offset that begins a rune to its
// rune-index, so regexp byte offsets (from FindAllStringIndex) can be
// converted to character offsets.
func byteOffsetToRuneOffset(text string) map[int]int {
	m := make(map[int]int, len(text))
	runeIdx := 0
	for byteIdx := range text {
		m[byteIdx] = runeIdx
		runeIdx++
	}
	m[len(text)] = runeIdx
	return m
}

// boundary markers, tried in priority order. Each entry is the literal
// marker string.
var boundaryMarkers = []string{
	"\n\n", // paragraph break
	"\n",   // line break
	"。",    // CJK full stop
	".",    // ASCII period
	"！", "!", "？", "?", // exclamation/question, CJK then ASCII
}

// splitSection recursively splits an oversized section's content into
// overlapping spans, offsetting every span's character positions by base
// (the section's start within the original text).
func (c *Chunker) splitSection(content string, base int) []Span {
	runes := []rune(content)
	n := len(runes)
	size := c.opts.ChunkSize
	overlap := c.opts.ChunkOverlap

	var spans []Span
	pos := 0
	for pos < n {
		windowEnd := pos + size
		if windowEnd >= n {
			if s, ok := trimSpan(string(runes[pos:n]), base+pos); ok {
				spans = append(spans, s)
			}
			break
		}

		end := findBoundary(runes, pos, windowEnd)
		if s, ok := trimSpan(string(runes[pos:end]), base+pos); ok {
			spans = append(spans, s)
		}

		next := end - overlap
		if next <= pos {
			next = end
		}
		pos = next
	}
	return spans
}

// findBoundary locates the latest natural boundary inside (start,
// windowEnd], trying each marker priority in turn and accepting a match
// only past the half-window point, to prevent tiny tails. Falls back to a
// hard cut at windowEnd when no boundary qualifies.
func findBoundary(runes []rune, start, windowEnd int) int {
	minAccept := start + (windowEnd-start)/2
	window := string(runes[start:windowEnd])

	for _, marker := range boundaryMarkers {
		idx := strings.LastIndex(window, marker)
		if idx < 0 {
			continue
		}
		// LastIndex returns a byte offset; start indexes runes. Count
		// the runes preceding the match before combining them.
		runeIdx := utf8.RuneCountInString(window[:idx])
		end := start + runeIdx + utf8.RuneCountInString(marker)
		if end > windowEnd {
			end = windowEnd
		}
		if end > minAccept && end > start {
			return end
		}
	}
	return windowEnd
}

// trimSpan trims leading/trailing whitespace from content, recomputing
// the char span, and reports false for a span that trims to nothing.
func trimSpan(content string, offset int) (Span, bool) {
	runes := []rune(content)
	lead := 0
	for lead < len(runes) && isTrimmedSpace(runes[lead]) {
		lead++
	}
	trail := len(runes)
	for trail > lead && isTrimmedSpace(runes[trail-1]) {
		trail--
	}
	if trail <= lead {
		return Span{}, false
	}
	return Span{
		Content:   string(runes[lead:trail]),
		StartChar: offset + lead,
		EndChar:   offset + trail,
	}, true
}

func isTrimmedSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}
