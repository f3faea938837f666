// Package contextbuild selects a diverse, non-redundant subset of
// reranked search results and packs them into a citation-annotated
// prompt context under a character budget.
package contextbuild

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jmswen/knowledge/internal/search"
)

// Selection defaults.
const (
	DefaultMaxChunks        = 8
	DefaultMaxChars         = 4000
	DefaultMinScore         = 0.01
	DefaultScoreDrop        = 0.4
	DefaultMaxPerDoc        = 3
	DefaultJaccardRedundant = 0.6
)

// Options configures the selection algorithm; zero values fall back to
// the package defaults via WithDefaults.
type Options struct {
	MaxChunks        int
	MaxChars         int
	MinScore         float64
	ScoreDrop        float64
	MaxPerDoc        int
	JaccardRedundant float64
}

// WithDefaults fills any unset (zero-valued) field with its package
// default.
func (o Options) WithDefaults() Options {
	if o.MaxChunks <= 0 {
		o.MaxChunks = DefaultMaxChunks
	}
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.MinScore <= 0 {
		o.MinScore = DefaultMinScore
	}
	if o.ScoreDrop <= 0 {
		o.ScoreDrop = DefaultScoreDrop
	}
	if o.MaxPerDoc <= 0 {
		o.MaxPerDoc = DefaultMaxPerDoc
	}
	if o.JaccardRedundant <= 0 {
		o.JaccardRedundant = DefaultJaccardRedundant
	}
	return o
}

// Builder implements DiverseContextBuilder.
type Builder struct {
	opts Options
}

// New builds a Builder with opts (defaults applied for any zero field).
func New(opts Options) *Builder {
	return &Builder{opts: opts.WithDefaults()}
}

// PackedChunk is one context entry ready for prompt assembly: a
// citation number, its source filename, and the chunk text.
type PackedChunk struct {
	Citation int
	Filename string
	Content  string
	Result   *search.SearchResult
}

// Build selects a diverse subset of results (sorted by final score
// descending) and packs it into prompt-ready chunks within MaxChars,
// in a single pass.
func (b *Builder) Build(results []*search.SearchResult) []PackedChunk {
	selected := b.selectDiverse(results)
	return b.pack(selected)
}

// selectDiverse runs the single-pass selection over results
// (assumed already sorted by final score descending).
func (b *Builder) selectDiverse(results []*search.SearchResult) []*search.SearchResult {
	if len(results) == 0 {
		return nil
	}

	o := b.opts
	top := results[0].FinalScore()

	var selected []*search.SearchResult
	tokenSets := make([]map[string]struct{}, 0, o.MaxChunks)
	perDoc := make(map[int64]int)
	uniqueDocs := 0

	for _, r := range results {
		score := r.FinalScore()
		if score < o.MinScore {
			continue
		}
		if score < top*o.ScoreDrop {
			break
		}
		if perDoc[r.DocumentID] >= o.MaxPerDoc {
			continue
		}

		tokens := tokenSet(r.Content)
		redundant := false
		for _, prior := range tokenSets {
			if jaccard(tokens, prior) > o.JaccardRedundant {
				redundant = true
				break
			}
		}
		if redundant {
			continue
		}

		if len(selected) >= o.MaxChunks-2 && uniqueDocs < 3 && perDoc[r.DocumentID] > 0 {
			continue
		}

		if perDoc[r.DocumentID] == 0 {
			uniqueDocs++
		}
		selected = append(selected, r)
		tokenSets = append(tokenSets, tokens)
		perDoc[r.DocumentID]++

		if len(selected) >= o.MaxChunks {
			break
		}
	}

	return selected
}

// pack assigns citation numbers and drops trailing candidates once
// adding one more would overflow MaxChars.
func (b *Builder) pack(selected []*search.SearchResult) []PackedChunk {
	var packed []PackedChunk
	used := 0
	for i, r := range selected {
		entry := fmt.Sprintf("[%d] %s\n%s\n", i+1, r.Filename, r.Content)
		if used+len(entry) > b.opts.MaxChars {
			break
		}
		used += len(entry)
		packed = append(packed, PackedChunk{
			Citation: i + 1,
			Filename: r.Filename,
			Content:  r.Content,
			Result:   r,
		})
	}
	return packed
}

// RenderPrompt concatenates packed chunks into the context block handed
// to the Generator, each annotated with its citation number and source
// filename.
func RenderPrompt(chunks []PackedChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", c.Citation, c.Filename, c.Content)
	}
	return b.String()
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// tokenSet builds the lowercase word set a Jaccard comparison runs
// over.
func tokenSet(text string) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// jaccard computes |intersection| / |union| over two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(large) < len(small) {
		small, large = large, small
	}
	intersection := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
