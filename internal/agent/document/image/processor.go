package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/vectordocs/pkg/logger"
)

// Processor is the tesseract OCR engine.
type Processor struct {
	logger        logger.Logger
	preprocessors []ImagePreprocessor
	config        *ProcessOptions
}

// ImagePreprocessor transforms an image before recognition.
type ImagePreprocessor interface {
	Process(img image.Image) (image.Image, error)
}

type ProcessOptions struct {
	Language    []string
	DPI         int
	PageSegMode gosseract.PageSegMode
	Whitelist   string
	// MinWidth and MinHeight skip decorations such as bullets and rules.
	MinWidth         int
	MinHeight        int
	PreprocessConfig *PreprocessConfig
}

type PreprocessConfig struct {
	Denoise         bool
	DenoiseStrength float64
	Sharpen         bool
	SharpenStrength float64
	Contrast        float64
	// Threshold enables adaptive binarisation when BlockSize > 0.
	BlockSize         int
	ThresholdConstant float64
}

// DefaultProcessOptions returns the settings used for embedded PDF images.
func DefaultProcessOptions(languages ...string) *ProcessOptions {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &ProcessOptions{
		Language:    languages,
		DPI:         300,
		PageSegMode: gosseract.PSM_AUTO,
		MinWidth:    16,
		MinHeight:   16,
		PreprocessConfig: &PreprocessConfig{
			Sharpen:         true,
			SharpenStrength: 1.0,
			Contrast:        20,
		},
	}
}

func NewProcessor(log logger.Logger, opts *ProcessOptions) (*Processor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts == nil {
		opts = DefaultProcessOptions()
	}
	return &Processor{
		logger:        log,
		preprocessors: BuildPreprocessors(opts.PreprocessConfig),
		config:        opts,
	}, nil
}

// BuildPreprocessors returns the pipeline described by cfg, always
// starting with grayscale conversion.
func BuildPreprocessors(cfg *PreprocessConfig) []ImagePreprocessor {
	chain := []ImagePreprocessor{NewGrayscaleProcessor()}
	if cfg == nil {
		return chain
	}
	if cfg.Denoise {
		chain = append(chain, NewDenoiseProcessor(cfg.DenoiseStrength))
	}
	if cfg.Contrast != 0 {
		chain = append(chain, NewContrastProcessor(cfg.Contrast))
	}
	if cfg.Sharpen {
		chain = append(chain, NewSharpenProcessor(cfg.SharpenStrength))
	}
	if cfg.BlockSize > 0 {
		chain = append(chain, NewAdaptiveThresholdProcessor(cfg.BlockSize, cfg.ThresholdConstant))
	}
	return chain
}

// Recognize decodes data, runs the preprocessing chain and returns the
// recognised text. Images below the minimum size yield "".
func (p *Processor) Recognize(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() < p.config.MinWidth || b.Dy() < p.config.MinHeight {
		p.logger.Debug("Skipping small image", logger.Int("width", b.Dx()), logger.Int("height", b.Dy()))
		return "", nil
	}

	processed, err := Preprocess(img, p.preprocessors)
	if err != nil {
		return "", fmt.Errorf("failed to preprocess image: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, processed, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	// 每次识别使用独立的 Tesseract 客户端, 客户端本身不是并发安全的
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(p.config.Language...); err != nil {
		return "", fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(p.config.PageSegMode); err != nil {
		return "", fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if p.config.DPI > 0 {
		if err := client.SetVariable("user_defined_dpi", fmt.Sprint(p.config.DPI)); err != nil {
			return "", fmt.Errorf("failed to set dpi: %w", err)
		}
	}
	if p.config.Whitelist != "" {
		if err := client.SetWhitelist(p.config.Whitelist); err != nil {
			return "", fmt.Errorf("failed to set whitelist: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to perform OCR: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Preprocess applies chain to img in order.
func Preprocess(img image.Image, chain []ImagePreprocessor) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	for _, processor := range chain {
		out, err := processor.Process(img)
		if err != nil {
			return nil, fmt.Errorf("preprocessing failed: %w", err)
		}
		if out == nil {
			return nil, fmt.Errorf("preprocessor returned nil image")
		}
		img = out
	}
	return img, nil
}

func (p *Processor) Close() error {
	return nil
}
