// Package search answers nearest neighbour queries over a user's chunks.
package search

import (
	"context"
	"fmt"

	cfg "github.com/feichai0017/vectordocs/config"
	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/internal/utils/validator"
	"github.com/feichai0017/vectordocs/pkg/llm"
	"github.com/feichai0017/vectordocs/pkg/logger"
	"github.com/feichai0017/vectordocs/pkg/store"
)

type Service struct {
	embedder    llm.Embedder
	index       store.VectorIndex
	defaultTopK int
	maxTopK     int
	logger      logger.Logger
}

func NewService(embedder llm.Embedder, index store.VectorIndex, conf cfg.SearchConfig, log logger.Logger) *Service {
	if conf.DefaultTopK <= 0 {
		conf.DefaultTopK = 5
	}
	if conf.MaxTopK <= 0 {
		conf.MaxTopK = 50
	}
	return &Service{
		embedder:    embedder,
		index:       index,
		defaultTopK: conf.DefaultTopK,
		maxTopK:     conf.MaxTopK,
		logger:      log.Named("search"),
	}
}

// Search embeds the query and returns the closest chunks owned by the user.
func (s *Service) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK == 0 {
		topK = s.defaultTopK
	}
	topK = min(topK, s.maxTopK)

	vectors, err := s.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("failed to embed query: expected 1 vector, got %d", len(vectors))
	}

	hits, err := s.index.TopK(ctx, req.UserID, vectors[0], topK, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	fields := []logger.Field{
		logger.String("userId", req.UserID),
		logger.Int("topK", topK),
		logger.Int("hits", len(hits)),
	}
	if len(hits) > 0 {
		fields = append(fields, logger.Float64("bestDistance", hits[0].Distance))
	}
	s.logger.Info("Search completed", fields...)
	return &models.SearchResponse{Query: req.Query, Hits: hits}, nil
}
