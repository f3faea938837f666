package parse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// titleHeadingRE matches a leading Markdown H1 used as a document's
// derived title.
var titleHeadingRE = regexp.MustCompile(`(?m)^#[ \t]+(\S.*)$`)

// TextParser handles the file types that need no external decoder:
// plain text and Markdown. It is the one concrete Parser this module
// ships; richer formats (PDF, Office, images, archives) satisfy the same
// contract but are supplied by the host application.
type TextParser struct{}

// NewTextParser constructs a TextParser.
func NewTextParser() *TextParser {
	return &TextParser{}
}

// SupportedTypes lists the file-type tags TextParser accepts.
func (p *TextParser) SupportedTypes() []string {
	return []string{"txt", "md", "markdown"}
}

// Parse reads the file at path and returns its content verbatim. For
// Markdown, the first H1 heading (if any) becomes the title; otherwise
// the title is left blank and the caller falls back to the filename.
func (p *TextParser) Parse(_ context.Context, path, fileType string, progress ProgressFunc) (*Result, error) {
	if !p.supports(fileType) {
		return nil, fmt.Errorf("text parser does not support file type %q", fileType)
	}

	if progress != nil {
		progress("reading file", 0)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)

	title := ""
	if fileType == "md" || fileType == "markdown" {
		if m := titleHeadingRE.FindStringSubmatch(content); m != nil {
			title = strings.TrimSpace(m[1])
		}
	}

	if progress != nil {
		progress("done", 1)
	}

	return &Result{
		Content: content,
		Title:   title,
		Metadata: map[string]string{
			"source_path": filepath.Base(path),
		},
	}, nil
}

func (p *TextParser) supports(fileType string) bool {
	for _, t := range p.SupportedTypes() {
		if t == fileType {
			return true
		}
	}
	return false
}
