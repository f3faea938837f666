package mcp

import (
	"fmt"
	"strings"

	"github.com/jmswen/knowledge/internal/answer"
	"github.com/jmswen/knowledge/internal/search"
)

// FormatSearchResults renders results as the tool's human-readable text
// content. Clients that want structure use the parallel typed output.
func FormatSearchResults(query string, results []*search.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results for %q.", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d results for %q:\n\n", len(results), query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s (score %.4f", i+1, r.Filename, r.Score)
		if r.InBothLists {
			sb.WriteString(", matched by both keyword and semantic search")
		}
		sb.WriteString(")\n")
		preview := r.Preview
		if preview == "" {
			preview = truncate(r.Content, 150)
		}
		if preview != "" {
			fmt.Fprintf(&sb, "   %s\n", preview)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatAnswer renders a finished ask turn: the response followed by
// its numbered source list.
func FormatAnswer(final *answer.Final) string {
	var sb strings.Builder
	sb.WriteString(final.Response)
	if len(final.Citations) > 0 {
		sb.WriteString("\n\nSources:\n")
		for _, c := range final.Citations {
			fmt.Fprintf(&sb, "  [%d] %s\n", c.Number, c.Filename)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// truncate cuts s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// clampLimit bounds a requested result count to [min, max], applying
// defaultVal when the request was zero.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit == 0 {
		limit = defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}
