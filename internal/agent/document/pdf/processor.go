package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/vectordocs/internal/agent/document/image"
	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

// defaultPageHeight is US Letter, used when no MediaBox is found.
const defaultPageHeight = 792.0

// Processor extracts PDF pages as positioned text runs, optionally adding
// OCR text of embedded images at the place they are drawn.
type Processor struct {
	logger  logger.Logger
	ocr     image.OCR
	images  ImageSource
	workers int
}

type Option func(*Processor)

// WithOCR enables recognition of embedded images.
func WithOCR(engine image.OCR) Option {
	return func(p *Processor) {
		p.ocr = engine
	}
}

// WithImageSource replaces the pdfcpu image extractor.
func WithImageSource(src ImageSource) Option {
	return func(p *Processor) {
		p.images = src
	}
}

// WithWorkers bounds the number of pages extracted concurrently.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

func NewProcessor(log logger.Logger, opts ...Option) *Processor {
	p := &Processor{
		logger:  log,
		images:  NewPdfcpuImageSource(),
		workers: 4,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Extract(ctx context.Context, data []byte) ([]models.PageText, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	var images PageImages
	if p.ocr != nil {
		images, err = p.images.Extract(ctx, data)
		if err != nil {
			p.logger.Warn("Failed to extract embedded images, continuing without OCR", logger.Error(err))
			images = nil
		}
	}

	numPages := reader.NumPage()
	pages := make([]models.PageText, numPages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := 1; i <= numPages; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pages[i-1] = models.PageText{
				Number: i,
				Text:   p.extractPage(gctx, reader.Page(i), i, images[i]),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Debug("Extracted pdf", logger.Int("pages", numPages), logger.Int("imagePages", len(images)))
	return pages, nil
}

func (p *Processor) extractPage(ctx context.Context, page pdf.Page, num int, images map[string][]byte) string {
	if page.V.IsNull() {
		return ""
	}
	height := pageHeight(page.V)

	runs := p.textRuns(page, height, num)
	if p.ocr != nil && len(images) > 0 {
		runs = append(runs, p.imageRuns(ctx, page, height, num, images)...)
	}

	SortRuns(runs)
	return MergeRuns(runs)
}

// textRuns returns the native glyph runs. The pdf library panics on some
// malformed fonts; such pages contribute no native text.
func (p *Processor) textRuns(page pdf.Page, height float64, num int) (runs []TextRun) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("Failed to read page text", logger.Int("page", num), logger.Any("panic", r))
			runs = nil
		}
	}()

	for _, t := range page.Content().Text {
		if t.S == "" {
			continue
		}
		runs = append(runs, TextRun{
			X:    t.X,
			Y:    height - t.Y,
			EndX: t.X + t.W,
			Text: t.S,
		})
	}
	return runs
}

// imageRuns recognises every image drawn on the page. Each distinct image
// is recognised once; failures are logged and skipped. An image without
// text still yields an empty run at its position.
func (p *Processor) imageRuns(ctx context.Context, page pdf.Page, height float64, num int, images map[string][]byte) []TextRun {
	placements := p.placements(page, num)
	recognised := make(map[string]string)
	failed := make(map[string]bool)

	var runs []TextRun
	for _, pl := range placements {
		data, ok := images[pl.Name]
		if !ok {
			p.logger.Debug("Image resource not extracted", logger.Int("page", num), logger.String("name", pl.Name))
			continue
		}
		if failed[pl.Name] {
			continue
		}

		text, done := recognised[pl.Name]
		if !done {
			out, err := p.ocr.Recognize(ctx, data)
			if err != nil {
				p.logger.Warn("Failed to recognise image",
					logger.Int("page", num),
					logger.String("name", pl.Name),
					logger.Error(err),
				)
				failed[pl.Name] = true
				continue
			}
			text = strings.TrimSpace(out)
			recognised[pl.Name] = text
		}

		y := height - pl.Y
		runs = append(runs, TextRun{X: pl.X, Y: y, EndX: pl.X, Text: text})
	}
	return runs
}

// placements walks the page content streams and returns where image
// XObjects are drawn.
func (p *Processor) placements(page pdf.Page, num int) []Placement {
	tracker := newPlacementTracker()
	xobjects := page.Resources().Key("XObject")

	for _, stream := range contentStreams(page.V.Key("Contents")) {
		p.interpret(stream, num, func(op string, args []pdf.Value) {
			switch op {
			case "q":
				tracker.save()
			case "Q":
				tracker.restore()
			case "cm":
				m, ok := matrixOperands(args)
				if !ok {
					p.logger.Debug("Skipping malformed cm operator", logger.Int("page", num), logger.Int("operands", len(args)))
					return
				}
				tracker.concat(m)
			case "Do":
				if len(args) != 1 || args[0].Kind() != pdf.Name {
					return
				}
				name := args[0].Name()
				if xobjects.Key(name).Key("Subtype").Name() != "Image" {
					return
				}
				tracker.draw(name)
			}
		})
	}
	return tracker.placements
}

// interpret runs fn for every operator in stream, with the operands in
// source order. A stream the tokenizer cannot read stops early.
func (p *Processor) interpret(stream pdf.Value, num int, fn func(op string, args []pdf.Value)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("Failed to interpret content stream", logger.Int("page", num), logger.Any("panic", r))
		}
	}()

	pdf.Interpret(stream, func(stk *pdf.Stack, op string) {
		args := make([]pdf.Value, stk.Len())
		for i := len(args) - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		fn(op, args)
	})
}

func contentStreams(contents pdf.Value) []pdf.Value {
	switch contents.Kind() {
	case pdf.Stream:
		return []pdf.Value{contents}
	case pdf.Array:
		streams := make([]pdf.Value, 0, contents.Len())
		for i := 0; i < contents.Len(); i++ {
			if s := contents.Index(i); s.Kind() == pdf.Stream {
				streams = append(streams, s)
			}
		}
		return streams
	}
	return nil
}

func matrixOperands(args []pdf.Value) (Matrix, bool) {
	var m Matrix
	if len(args) != 6 {
		return m, false
	}
	for i, a := range args {
		if k := a.Kind(); k != pdf.Integer && k != pdf.Real {
			return m, false
		}
		m[i] = a.Float64()
	}
	return m, true
}

// pageHeight reads the MediaBox, inherited from parent page tree nodes.
func pageHeight(v pdf.Value) float64 {
	for node := v; !node.IsNull(); node = node.Key("Parent") {
		box := node.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			if h := box.Index(3).Float64() - box.Index(1).Float64(); h > 0 {
				return h
			}
		}
	}
	return defaultPageHeight
}

func (p *Processor) Close() error {
	if p.ocr != nil {
		return p.ocr.Close()
	}
	return nil
}
