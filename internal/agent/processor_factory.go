package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	cfg "github.com/feichai0017/vectordocs/config"
	"github.com/feichai0017/vectordocs/internal/agent/document"
	"github.com/feichai0017/vectordocs/internal/agent/document/image"
	"github.com/feichai0017/vectordocs/internal/agent/document/pdf"
	"github.com/feichai0017/vectordocs/internal/agent/document/text"
	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

// DetectFormat resolves the extractor format from the declared content
// type, falling back to the file extension.
func DetectFormat(contentType, fileName string) (document.Format, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	ext := strings.ToLower(filepath.Ext(fileName))

	switch {
	case strings.Contains(ct, "pdf") || ext == ".pdf":
		return document.FormatPDF, nil
	case strings.HasPrefix(ct, "text/") || ext == ".txt":
		return document.FormatPlainText, nil
	}
	return 0, fmt.Errorf("%w: content type %q, file %q", document.ErrUnsupportedFormat, contentType, fileName)
}

type ProcessorFactory struct {
	processors map[document.Format]document.Extractor
	logger     logger.Logger
}

// NewProcessorFactory builds the extractors for every supported format.
func NewProcessorFactory(ctx context.Context, log logger.Logger, ocr cfg.OCRConfig) (*ProcessorFactory, error) {
	factory := &ProcessorFactory{
		processors: make(map[document.Format]document.Extractor),
		logger:     log,
	}

	factory.Register(document.FormatPlainText, text.NewProcessor(log.Named("text")))

	pdfOpts := []pdf.Option{pdf.WithWorkers(ocr.PageWorkers)}
	if ocr.Enabled {
		engine, err := newOCREngine(ctx, log, ocr)
		if err != nil {
			return nil, err
		}
		pdfOpts = append(pdfOpts, pdf.WithOCR(engine))
	}
	factory.Register(document.FormatPDF, pdf.NewProcessor(log.Named("pdf"), pdfOpts...))

	log.Info("Processor factory ready",
		logger.Bool("ocr", ocr.Enabled),
		logger.String("engine", ocr.Engine),
		logger.Int("pageWorkers", ocr.PageWorkers),
	)
	return factory, nil
}

func newOCREngine(ctx context.Context, log logger.Logger, ocr cfg.OCRConfig) (image.OCR, error) {
	switch ocr.Engine {
	case "textract":
		textractCfg := cfg.GetTextractConfig()
		engine, err := image.NewTextractProcessor(ctx, &image.TextractConfig{
			Region:        textractCfg.Region,
			Endpoint:      textractCfg.Endpoint,
			AccessKey:     textractCfg.AccessKey,
			SecretKey:     textractCfg.SecretKey,
			MinConfidence: 80.0,
		}, log.Named("textract"))
		if err != nil {
			return nil, fmt.Errorf("failed to create textract processor: %w", err)
		}
		return engine, nil
	default:
		langs := strings.Split(ocr.Language, "+")
		engine, err := image.NewProcessor(log.Named("tesseract"), image.DefaultProcessOptions(langs...))
		if err != nil {
			return nil, fmt.Errorf("failed to create tesseract processor: %w", err)
		}
		return engine, nil
	}
}

// Register installs or replaces the extractor for a format.
func (f *ProcessorFactory) Register(format document.Format, extractor document.Extractor) {
	f.processors[format] = extractor
}

func (f *ProcessorFactory) GetProcessor(format document.Format) (document.Extractor, error) {
	processor, ok := f.processors[format]
	if !ok {
		return nil, fmt.Errorf("%w: no processor for %s", document.ErrUnsupportedFormat, format)
	}
	return processor, nil
}

// Extract detects the format of a document and extracts its pages.
func (f *ProcessorFactory) Extract(ctx context.Context, data []byte, contentType, fileName string) ([]models.PageText, error) {
	format, err := DetectFormat(contentType, fileName)
	if err != nil {
		f.logger.Warn("Unsupported document",
			logger.String("contentType", contentType),
			logger.String("fileName", fileName),
		)
		return nil, err
	}

	processor, err := f.GetProcessor(format)
	if err != nil {
		return nil, err
	}

	f.logger.Info("Extracting document",
		logger.String("format", format.String()),
		logger.String("fileName", fileName),
		logger.Int("bytes", len(data)),
	)
	pages, err := processor.Extract(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", format, err)
	}
	return pages, nil
}

func (f *ProcessorFactory) Close() error {
	var firstErr error
	for _, p := range f.processors {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
