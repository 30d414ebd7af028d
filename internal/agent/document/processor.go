package document

import (
	"context"
	"errors"

	"github.com/feichai0017/vectordocs/internal/models"
)

// ErrUnsupportedFormat is returned for files no extractor handles. It is
// never worth retrying.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrExtractionFailed wraps errors from an extractor that gave up on a
// well-typed but unreadable file.
var ErrExtractionFailed = errors.New("text extraction failed")

// Format is the closed set of inputs the pipeline knows how to extract.
type Format int

const (
	FormatPlainText Format = iota + 1
	FormatPDF
)

func (f Format) String() string {
	switch f {
	case FormatPlainText:
		return "text"
	case FormatPDF:
		return "pdf"
	default:
		return "unknown"
	}
}

// Extractor turns raw document bytes into per-page text.
type Extractor interface {
	// Extract returns one PageText per page, numbered from 1, in page order.
	Extract(ctx context.Context, data []byte) ([]models.PageText, error)

	// Close releases engine resources.
	Close() error
}
