package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/vectordocs/api/middleware"
	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/internal/service/answer"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

type Answerer interface {
	Stream(ctx context.Context, req *models.AnswerRequest, emit answer.EmitFunc) error
}

type AnswerHandler struct {
	service Answerer
	logger  logger.Logger
}

type AnswerBody struct {
	RequestID  string            `json:"requestId"`
	Query      string            `json:"query" binding:"required"`
	DocumentID *uuid.UUID        `json:"documentId"`
	TopK       int               `json:"topK" binding:"gte=0"`
	Context    []models.ChatTurn `json:"context"`
}

func NewAnswerHandler(service Answerer, log logger.Logger) *AnswerHandler {
	return &AnswerHandler{service: service, logger: log}
}

// Stream answers over server-sent events, one event per frame.
func (h *AnswerHandler) Stream(c *gin.Context) {
	var body AnswerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, h.logger, "Invalid answer request", err)
		return
	}

	req := &models.AnswerRequest{
		RequestID:  body.RequestID,
		Query:      body.Query,
		UserID:     middleware.UserID(c),
		DocumentID: body.DocumentID,
		TopK:       body.TopK,
		Context:    body.Context,
	}

	started := false
	err := h.service.Stream(c.Request.Context(), req, func(f answer.Frame) error {
		if !started {
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Header("X-Accel-Buffering", "no")
			started = true
		}
		c.SSEvent(f.Event, f)
		c.Writer.Flush()
		return c.Request.Context().Err()
	})
	if err == nil {
		return
	}
	if !started {
		handleError(c, h.logger, "Failed to answer", err)
		return
	}
	// The stream already carries the error frame, or the client has gone.
	h.logger.Warn("Answer stream ended early",
		logger.String("requestId", req.RequestID),
		logger.Error(err),
	)
}
