package text

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

// Processor extracts plain text files as a single page.
type Processor struct {
	logger logger.Logger
}

func NewProcessor(log logger.Logger) *Processor {
	return &Processor{logger: log}
}

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func (p *Processor) Extract(ctx context.Context, data []byte) ([]models.PageText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := string(data)
	if !utf8.ValidString(text) {
		p.logger.Warn("Text is not valid UTF-8, replacing invalid bytes")
		text = strings.ToValidUTF8(text, "\uFFFD")
	}

	text = strings.TrimPrefix(text, "\ufeff")
	p.logger.Debug("Extracted plain text", logger.Int("bytes", len(data)))
	return []models.PageText{{Number: 1, Text: lineEndings.Replace(text)}}, nil
}

func (p *Processor) Close() error {
	return nil
}
