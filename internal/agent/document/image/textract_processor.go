package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/vectordocs/pkg/logger"
)

// textractAPI is the subset of the textract client the engine calls.
type textractAPI interface {
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// TextractProcessor is the AWS Textract OCR engine.
type TextractProcessor struct {
	client textractAPI
	logger logger.Logger
	config *TextractConfig
}

type TextractConfig struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
}

func NewTextractProcessor(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractProcessor, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
	})

	return &TextractProcessor{
		client: client,
		logger: log,
		config: cfg,
	}, nil
}

// Recognize sends the image to Textract and joins the detected lines.
func (p *TextractProcessor) Recognize(ctx context.Context, data []byte) (string, error) {
	result, err := p.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: data},
	})
	if err != nil {
		return "", fmt.Errorf("failed to detect document text: %w", err)
	}

	lines := p.processBlocks(result.Blocks)
	p.logger.Debug("Textract recognised lines", logger.Int("lines", len(lines)))
	return strings.Join(lines, "\n"), nil
}

func (p *TextractProcessor) Close() error {
	return nil
}

// processBlocks keeps LINE blocks at or above the confidence threshold.
func (p *TextractProcessor) processBlocks(blocks []types.Block) []string {
	var texts []string
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		if block.Confidence != nil && *block.Confidence < p.config.MinConfidence {
			continue
		}
		texts = append(texts, *block.Text)
	}
	return texts
}
