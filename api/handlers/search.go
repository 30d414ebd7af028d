package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/vectordocs/api/middleware"
	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/pkg/converters"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

type Searcher interface {
	Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error)
}

type SearchHandler struct {
	service   Searcher
	converter *converters.JSONConverter
	logger    logger.Logger
}

// SearchBody is the JSON body of a search call.
type SearchBody struct {
	Query      string     `json:"query" binding:"required"`
	DocumentID *uuid.UUID `json:"documentId"`
	TopK       int        `json:"topK" binding:"gte=0"`
}

func NewSearchHandler(service Searcher, log logger.Logger) *SearchHandler {
	return &SearchHandler{
		service:   service,
		converter: converters.NewJSONConverter(),
		logger:    log,
	}
}

func (h *SearchHandler) Search(c *gin.Context) {
	var body SearchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, h.logger, "Invalid search request", err)
		return
	}

	resp, err := h.service.Search(c.Request.Context(), &models.SearchRequest{
		Query:      body.Query,
		UserID:     middleware.UserID(c),
		DocumentID: body.DocumentID,
		TopK:       body.TopK,
	})
	if err != nil {
		handleError(c, h.logger, "Search failed", err)
		return
	}

	c.JSON(http.StatusOK, h.converter.Convert(resp.Query, resp.Hits))
}
