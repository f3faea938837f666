//go:build ignore

// Package main generates a synthetic document corpus for benchmarking.
// Usage: go run scripts/generate-test-corpus.go -files 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of documents to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// Topic vocabulary for plausible note-like prose.
var topics = []string{
	"retrieval", "gardening", "woodworking", "astronomy", "fermentation",
	"bookbinding", "cartography", "beekeeping", "espresso", "sailing",
	"linguistics", "mycology", "letterpress", "orienteering", "archery",
}

var verbs = []string{
	"compares", "documents", "summarizes", "questions", "measures",
	"catalogs", "sketches", "revisits", "debunks", "outlines",
}

var nouns = []string{
	"technique", "experiment", "failure mode", "checklist", "field guide",
	"vendor", "tool", "schedule", "recipe", "observation",
}

// sentence produces one synthetic prose sentence.
func sentence(rng *rand.Rand, topic string) string {
	return fmt.Sprintf("This note %s a %s %s and records what changed since last season.",
		verbs[rng.Intn(len(verbs))], topic, nouns[rng.Intn(len(nouns))])
}

// section produces one Markdown H2 section of n sentences.
func section(rng *rand.Rand, topic string, n int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s %s\n\n", strings.Title(topic), nouns[rng.Intn(len(nouns))])
	for i := 0; i < n; i++ {
		sb.WriteString(sentence(rng, topic))
		sb.WriteString(" ")
	}
	sb.WriteString("\n\n")
	return sb.String()
}

// document produces one Markdown document with 2-6 sections.
func document(rng *rand.Rand, id int) string {
	topic := topics[rng.Intn(len(topics))]
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s notes %04d\n\n", strings.Title(topic), id)
	sections := 2 + rng.Intn(5)
	for i := 0; i < sections; i++ {
		sb.WriteString(section(rng, topic, 8+rng.Intn(16)))
	}
	return sb.String()
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < *numFiles; i++ {
		name := fmt.Sprintf("note-%05d.md", i)
		path := filepath.Join(*outputDir, name)
		if err := os.WriteFile(path, []byte(document(rng, i)), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	fmt.Printf("generated %d documents in %s\n", *numFiles, *outputDir)
}
