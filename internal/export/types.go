// Package export renders posts as standalone HTML pages or PDF files. Interactive custom
// nodes are flattened into static markup first.
package export

import (
	"errors"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat reads a format name, defaulting to HTML.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case "", FormatHTML:
		return FormatHTML, true
	case FormatPDF:
		return FormatPDF, true
	}
	return "", false
}

// Request contains parameters for an export operation
type Request struct {
	PostID string
	// Revision is a revision hash, or empty for the current post.
	Revision string
	Format   Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
