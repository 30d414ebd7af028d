package pdf

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/vectordocs/pkg/logger"
)

type stubOCR struct {
	mu     sync.Mutex
	text   string
	calls  int
	closed bool
}

func (s *stubOCR) Recognize(context.Context, []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.text, nil
}

func (s *stubOCR) Close() error { s.closed = true; return nil }

type staticImages PageImages

func (s staticImages) Extract(context.Context, []byte) (PageImages, error) {
	return PageImages(s), nil
}

var pageOneImages = staticImages{1: {"Im1": []byte("image"), "Fm1": []byte("form")}}

// buildPDF writes a one page document whose page tree carries a Letter
// MediaBox. The page offers font F1, image Im1 and form Fm1.
func buildPDF(content string) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 4 0 R >> /XObject << /Im1 5 0 R /Fm1 6 0 R >> >> /Contents 7 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		pdfStream("/Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8", "\x00"),
		pdfStream("/Type /XObject /Subtype /Form /BBox [0 0 10 10]", ""),
		pdfStream("", content),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func pdfStream(dict, data string) string {
	return fmt.Sprintf("<< %s /Length %d >>\nstream\n%s\nendstream", dict, len(data), data)
}

const (
	textTop    = "BT /F1 12 Tf 72 700 Td (Top) Tj ET\n"
	textBottom = "BT /F1 12 Tf 72 100 Td (Bottom) Tj ET\n"
)

func TestExtractPlacesOCRTextBetweenNativeLines(t *testing.T) {
	ocr := &stubOCR{text: "  OCRTEXT\n"}
	p := NewProcessor(logger.NewNopLogger(), WithOCR(ocr), WithImageSource(pageOneImages))

	pages, err := p.Extract(context.Background(),
		buildPDF(textTop+"q 100 0 0 50 72 300 cm /Im1 Do Q\n"+textBottom))

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "Top\nOCRTEXT\nBottom", pages[0].Text)
	assert.Equal(t, 1, ocr.calls)
}

func TestExtractWithoutOCRKeepsNativeText(t *testing.T) {
	p := NewProcessor(logger.NewNopLogger(), WithImageSource(pageOneImages))

	pages, err := p.Extract(context.Background(),
		buildPDF(textTop+"q 100 0 0 50 72 300 cm /Im1 Do Q\n"+textBottom))

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Top\nBottom", pages[0].Text)
}

func TestExtractRecognisesRepeatedImageOnce(t *testing.T) {
	ocr := &stubOCR{text: "OCRTEXT"}
	p := NewProcessor(logger.NewNopLogger(), WithOCR(ocr), WithImageSource(pageOneImages))

	pages, err := p.Extract(context.Background(), buildPDF(textTop+
		"q 100 0 0 50 72 300 cm /Im1 Do Q\n"+
		"q 100 0 0 50 72 200 cm /Im1 Do Q\n"+
		textBottom))

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Top\nOCRTEXT\nOCRTEXT\nBottom", pages[0].Text)
	assert.Equal(t, 1, ocr.calls)
}

func TestExtractSkipsNonImageXObjects(t *testing.T) {
	ocr := &stubOCR{text: "OCRTEXT"}
	p := NewProcessor(logger.NewNopLogger(), WithOCR(ocr), WithImageSource(pageOneImages))

	pages, err := p.Extract(context.Background(),
		buildPDF(textTop+"q 100 0 0 50 72 300 cm /Fm1 Do Q\n"+textBottom))

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Top\nBottom", pages[0].Text)
	assert.Zero(t, ocr.calls)
}

func TestExtractSurvivesMalformedMatrix(t *testing.T) {
	log := logger.NewTestLogger()
	ocr := &stubOCR{text: "OCRTEXT"}
	p := NewProcessor(log, WithOCR(ocr), WithImageSource(pageOneImages))

	// The three operand cm is skipped, so the image stays where the outer
	// cm put it. The glyph reader gives up on the page at the same operator.
	pages, err := p.Extract(context.Background(), buildPDF(textTop+
		"q 1 0 0 1 72 300 cm q 2 0 0 cm /Im1 Do Q Q\n"+
		textBottom))

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "OCRTEXT", pages[0].Text)
	assert.Equal(t, 1, ocr.calls)
	assert.True(t, log.HasMessage("WARN", "Failed to read page text"))
}

func TestExtractRejectsNonPDF(t *testing.T) {
	p := NewProcessor(logger.NewNopLogger())

	_, err := p.Extract(context.Background(), []byte("this is definitely not a pdf document"))
	assert.Error(t, err)
}

func TestProcessorOptions(t *testing.T) {
	ocr := &stubOCR{}
	p := NewProcessor(logger.NewNopLogger(), WithOCR(ocr), WithWorkers(2), WithWorkers(0))

	assert.Equal(t, 2, p.workers)
	assert.NoError(t, p.Close())
	assert.True(t, ocr.closed)
}
