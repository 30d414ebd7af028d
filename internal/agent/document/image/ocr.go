package image

import (
	"context"
)

// OCR recognises text in an encoded image (PNG, JPEG, TIFF, ...).
type OCR interface {
	Recognize(ctx context.Context, data []byte) (string, error)
	Close() error
}
