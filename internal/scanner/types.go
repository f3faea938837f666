// Package scanner discovers ingestable documents under a directory,
// respecting exclusion patterns, .gitignore rules, and sensitive-file
// patterns.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// DocKind buckets a file into the parser family that handles it.
type DocKind string

const (
	// KindMarkdown is structured prose with headings.
	KindMarkdown DocKind = "markdown"
	// KindText is plain unstructured text.
	KindText DocKind = "text"
	// KindPDF is a PDF document.
	KindPDF DocKind = "pdf"
	// KindOffice is a Word/Excel/PowerPoint document.
	KindOffice DocKind = "office"
	// KindImage is a raster image handled by OCR/vision parsers.
	KindImage DocKind = "image"
	// KindArchive is a container whose members are ingested separately.
	KindArchive DocKind = "archive"
	// KindUnknown is anything else; unknown text-like files are
	// ingested as plain text, unknown binaries are skipped.
	KindUnknown DocKind = "unknown"
)

// FileInfo contains metadata about a discovered document file.
type FileInfo struct {
	Path    string    // Relative path to the scanned root
	AbsPath string    // Absolute path
	Size    int64     // File size in bytes
	ModTime time.Time // Last modification time
	Kind    DocKind
}

// ScanOptions configures the scanner behavior.
type ScanOptions struct {
	// RootDir is the directory to scan.
	RootDir string

	// IncludePatterns specifies patterns to include (empty = all).
	IncludePatterns []string

	// ExcludePatterns specifies patterns to exclude.
	ExcludePatterns []string

	// RespectGitignore enables .gitignore parsing. Document libraries
	// are often version-controlled; their ignore rules carry over.
	RespectGitignore bool

	// Workers sizes the result channel buffer at Workers*10 entries
	// (0 = NumCPU). The directory walk itself runs in one goroutine.
	Workers int

	// MaxFileSize is the maximum file size to include in bytes
	// (0 = 50MB default).
	MaxFileSize int64

	// FollowSymlinks enables following symbolic links (default: false).
	FollowSymlinks bool
}

// ScanResult is returned from the scanner channel.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is the default maximum file size (50MB), matching
// the pipeline's upload admission limit.
const DefaultMaxFileSize = 50 * 1024 * 1024

// kindMap maps file extensions to document kinds.
var kindMap = map[string]DocKind{
	".md":       KindMarkdown,
	".mdx":      KindMarkdown,
	".markdown": KindMarkdown,
	".rst":      KindMarkdown,

	".txt": KindText,
	".log": KindText,
	".csv": KindText,

	".pdf": KindPDF,

	".docx": KindOffice,
	".doc":  KindOffice,
	".xlsx": KindOffice,
	".xls":  KindOffice,
	".pptx": KindOffice,
	".ppt":  KindOffice,

	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".gif":  KindImage,
	".webp": KindImage,
	".bmp":  KindImage,
	".tiff": KindImage,

	".zip": KindArchive,
	".tar": KindArchive,
	".gz":  KindArchive,
}

// textLikeExtensions are extensions treated as plain text even though
// they are not document formats per se (notes folders carry these).
var textLikeExtensions = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
	".toml": true,
	".xml":  true,
	".html": true,
	".htm":  true,
	".org":  true,
	".tex":  true,
}

// DetectKind detects the document kind from a file path.
func DetectKind(path string) DocKind {
	ext := strings.ToLower(filepath.Ext(path))
	if kind, ok := kindMap[ext]; ok {
		return kind
	}
	if textLikeExtensions[ext] {
		return KindText
	}
	return KindUnknown
}

// KnownBinaryKind reports whether the kind is a binary document format
// that must bypass the binary-content sniff.
func KnownBinaryKind(kind DocKind) bool {
	switch kind {
	case KindPDF, KindOffice, KindImage, KindArchive:
		return true
	}
	return false
}
