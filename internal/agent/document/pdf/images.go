package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageImages maps page number to image resource name to encoded bytes.
type PageImages map[int]map[string][]byte

// ImageSource pulls the embedded images out of a PDF.
type ImageSource interface {
	Extract(ctx context.Context, data []byte) (PageImages, error)
}

// PdfcpuImageSource extracts images with pdfcpu.
type PdfcpuImageSource struct {
	conf *model.Configuration
}

func NewPdfcpuImageSource() *PdfcpuImageSource {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PdfcpuImageSource{conf: conf}
}

func (s *PdfcpuImageSource) Extract(ctx context.Context, data []byte) (PageImages, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pages, err := api.ExtractImagesRaw(bytes.NewReader(data), nil, s.conf)
	if err != nil {
		return nil, fmt.Errorf("failed to extract images: %w", err)
	}

	out := make(PageImages)
	for _, images := range pages {
		for _, img := range images {
			if img.Reader == nil {
				continue
			}
			raw, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("failed to read image %s on page %d: %w", img.Name, img.PageNr, err)
			}
			if out[img.PageNr] == nil {
				out[img.PageNr] = make(map[string][]byte)
			}
			out[img.PageNr][img.Name] = raw
		}
	}
	return out, nil
}
