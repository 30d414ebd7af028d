package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/feichai0017/vectordocs/internal/agent/document"
	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/internal/service/embedding"
	"github.com/feichai0017/vectordocs/pkg/logger"
	"github.com/feichai0017/vectordocs/pkg/queue"
)

type DocumentHandler interface {
	HandleUploaded(ctx context.Context, event *models.DocumentUploaded) error
	HandleDeleted(ctx context.Context, event *models.DocumentDeleted) error
}

type EmbeddingProcessor interface {
	ProcessDocument(ctx context.Context, ref models.DocumentRef) error
	Sweep(ctx context.Context) (int, error)
}

// Handlers turns queue tasks into service calls.
type Handlers struct {
	documents  DocumentHandler
	embeddings EmbeddingProcessor
	logger     logger.Logger
}

func NewHandlers(documents DocumentHandler, embeddings EmbeddingProcessor, log logger.Logger) *Handlers {
	return &Handlers{documents: documents, embeddings: embeddings, logger: log}
}

func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TaskTypeDocumentUploaded, h.HandleDocumentUploaded)
	mux.HandleFunc(queue.TaskTypeDocumentDeleted, h.HandleDocumentDeleted)
	mux.HandleFunc(queue.TaskTypeEmbeddingGenerate, h.HandleEmbeddingGenerate)
	mux.HandleFunc(queue.TaskTypeEmbeddingSweep, h.HandleEmbeddingSweep)
}

func (h *Handlers) HandleDocumentUploaded(ctx context.Context, t *asynq.Task) error {
	var event models.DocumentUploaded
	if err := queue.DecodePayload(t, &event); err != nil {
		h.logger.Error("Failed to unmarshal task", logger.Error(err), logger.String("payload", string(t.Payload())))
		return err
	}

	h.logger.Info("Processing uploaded document",
		logger.String("documentId", event.ID.String()),
		logger.String("userId", event.UserID),
		logger.String("name", event.Name),
	)
	return retryable(h.documents.HandleUploaded(ctx, &event))
}

func (h *Handlers) HandleDocumentDeleted(ctx context.Context, t *asynq.Task) error {
	var event models.DocumentDeleted
	if err := queue.DecodePayload(t, &event); err != nil {
		h.logger.Error("Failed to unmarshal task", logger.Error(err), logger.String("payload", string(t.Payload())))
		return err
	}

	h.logger.Info("Processing deleted document",
		logger.String("documentId", event.DocumentID.String()),
		logger.Time("deletedAt", event.DeletedAt),
	)
	return retryable(h.documents.HandleDeleted(ctx, &event))
}

func (h *Handlers) HandleEmbeddingGenerate(ctx context.Context, t *asynq.Task) error {
	var ref models.DocumentRef
	if err := queue.DecodePayload(t, &ref); err != nil {
		return err
	}
	if ref.ID == uuid.Nil {
		return fmt.Errorf("embedding task without document id: %w", asynq.SkipRetry)
	}
	return retryable(h.embeddings.ProcessDocument(ctx, ref))
}

func (h *Handlers) HandleEmbeddingSweep(ctx context.Context, _ *asynq.Task) error {
	n, err := h.embeddings.Sweep(ctx)
	if err != nil {
		return err
	}
	h.logger.Debug("Sweep finished", logger.Int("scheduled", n))
	return nil
}

// retryable stops asynq from retrying errors that will fail the same way.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrInvalidEvent) ||
		errors.Is(err, document.ErrUnsupportedFormat) ||
		errors.Is(err, document.ErrExtractionFailed) ||
		errors.Is(err, embedding.ErrEmbeddingFailed) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// DocumentWorker serves document and embedding tasks.
type DocumentWorker struct {
	*BaseWorker
	handlers *Handlers
}

func NewDocumentWorker(cfg *Config, handlers *Handlers, log logger.Logger) (*DocumentWorker, error) {
	w := &DocumentWorker{
		BaseWorker: newBaseWorker(cfg, log.Named("worker")),
		handlers:   handlers,
	}
	handlers.Register(w.mux)

	if cfg.SweepInterval > 0 {
		if err := w.schedule(cfg.SweepInterval, queue.TaskTypeEmbeddingSweep); err != nil {
			return nil, err
		}
	}
	return w, nil
}
