// Package parse declares the Parser collaborator contract: turning an
// uploaded file into plain text plus an optional title and metadata. No
// implementation lives in this module; concrete parsers (PDF, DOCX,
// plain text, ...) are supplied by the host application.
package parse

import "context"

// ProgressFunc reports a human-readable message and a percent complete
// in [0, 1] while a long parse runs.
type ProgressFunc func(message string, percent float64)

// Result is what a Parser produces from a file.
type Result struct {
	Content  string
	Title    string
	Metadata map[string]string
}

// Parser extracts text from one supported file type.
type Parser interface {
	// Parse reads path (of the given file type, e.g. "pdf", "md", "txt")
	// and returns its extracted content. progress may be nil.
	Parse(ctx context.Context, path, fileType string, progress ProgressFunc) (*Result, error)
	// SupportedTypes lists the file-type tags this Parser accepts.
	SupportedTypes() []string
}
