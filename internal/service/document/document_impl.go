package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	agentdoc "github.com/feichai0017/vectordocs/internal/agent/document"
	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/internal/service/embedding"
	"github.com/feichai0017/vectordocs/internal/utils/validator"
	"github.com/feichai0017/vectordocs/pkg/cancel"
	"github.com/feichai0017/vectordocs/pkg/events"
	"github.com/feichai0017/vectordocs/pkg/logger"
	"github.com/feichai0017/vectordocs/pkg/queue"
	"github.com/feichai0017/vectordocs/pkg/storage"
	"github.com/feichai0017/vectordocs/pkg/store"
)

type DocumentService struct {
	store     embedding.Store
	storage   storage.Storage
	queue     queue.Queue
	registry  cancel.Registry
	publisher events.Publisher
	validator *validator.DocumentValidator
	logger    logger.Logger

	// worker side, nil in the API process
	extractor Extractor
	pipeline  Pipeline
	fetcher   *Fetcher

	now func() time.Time
}

type Option func(*DocumentService)

// WithProcessing enables the worker side handlers.
func WithProcessing(extractor Extractor, pipeline Pipeline, fetcher *Fetcher) Option {
	return func(s *DocumentService) {
		s.extractor = extractor
		s.pipeline = pipeline
		s.fetcher = fetcher
	}
}

func WithValidator(v *validator.DocumentValidator) Option {
	return func(s *DocumentService) {
		s.validator = v
	}
}

func NewService(
	st embedding.Store,
	objects storage.Storage,
	q queue.Queue,
	registry cancel.Registry,
	publisher events.Publisher,
	log logger.Logger,
	opts ...Option,
) *DocumentService {
	s := &DocumentService{
		store:     st,
		storage:   objects,
		queue:     q,
		registry:  registry,
		publisher: publisher,
		logger:    log.Named("documents"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = validator.NewDocumentValidator(s.logger, nil)
	}
	return s
}

var (
	_ DocumentManager   = (*DocumentService)(nil)
	_ DocumentProcessor = (*DocumentService)(nil)
)

// Upload stores the file and enqueues it for processing.
func (s *DocumentService) Upload(ctx context.Context, req UploadRequest) (*models.Document, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", validator.ErrInvalid)
	}

	s.logger.Info("Starting file upload",
		logger.String("userId", req.UserID),
		logger.String("filename", req.FileName),
		logger.Int("size", len(req.Data)),
	)

	result, err := s.validator.Validate(req.FileName, int64(len(req.Data)), bytes.NewReader(req.Data))
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		return nil, fmt.Errorf("%w: %s", validator.ErrInvalid, result.Error())
	}

	contentType := req.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = result.FileInfo.MimeType
	}

	id := uuid.New()
	key := fmt.Sprintf("%s/%s", id, filepath.Base(req.FileName))
	if _, err := s.storage.Store(ctx, bytes.NewReader(req.Data), int64(len(req.Data)), key, contentType); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	doc := &models.Document{
		ID:          id,
		UserID:      req.UserID,
		Name:        req.FileName,
		Size:        int64(len(req.Data)),
		ContentType: contentType,
		StorageKey:  key,
		Status:      models.StatusUploaded,
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	event := models.DocumentUploaded{
		ID:          doc.ID,
		Name:        doc.Name,
		Size:        doc.Size,
		UserID:      doc.UserID,
		ContentType: doc.ContentType,
		DownloadURL: StorageURL(key),
	}
	if err := s.queue.Enqueue(ctx, queue.TaskTypeDocumentUploaded, event); err != nil {
		s.logger.Error("Failed to enqueue task", logger.String("documentId", id.String()), logger.Error(err))
		if err := s.store.UpdateStatus(ctx, id, models.StatusProcessingError, "failed to enqueue document"); err != nil {
			s.logger.Error("Failed to mark document failed", logger.Error(err))
		}
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	s.publish(ctx, models.TopicDocumentsUploaded, id, event)

	s.logger.Info("Document uploaded",
		logger.String("documentId", id.String()),
		logger.String("hash", result.FileInfo.Hash),
	)
	return s.store.GetDocument(ctx, id)
}

// Delete cancels processing right away and leaves chunk removal to the
// worker.
func (s *DocumentService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	doc, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}

	if err := s.registry.Cancel(ctx, id.String()); err != nil {
		return fmt.Errorf("failed to cancel document: %w", err)
	}
	if err := s.store.UpdateStatus(ctx, id, models.StatusCancelled, ""); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	event := models.DocumentDeleted{DocumentID: id, UserID: userID, DeletedAt: s.now().UTC()}
	if err := s.queue.Enqueue(ctx, queue.TaskTypeDocumentDeleted, event); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	s.publish(ctx, models.TopicDocumentsDeleted, id, event)

	if doc.StorageKey != "" {
		if err := s.storage.Delete(ctx, doc.StorageKey); err != nil {
			s.logger.Warn("Failed to delete original", logger.String("documentId", id.String()), logger.Error(err))
		}
	}

	s.logger.Info("Document deleted", logger.String("documentId", id.String()), logger.String("userId", userID))
	return nil
}

// GetStatus returns the document with its embedding progress.
func (s *DocumentService) GetStatus(ctx context.Context, userID string, id uuid.UUID) (*models.DocumentProgress, error) {
	doc, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	total, pending, err := s.store.CountChunks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	progress := &models.DocumentProgress{
		Document:      *doc,
		TotalChunks:   total,
		PendingChunks: pending,
	}
	switch {
	case doc.Status == models.StatusProcessed:
		progress.ProgressPercentage = 100
	case total > 0:
		progress.ProgressPercentage = embedding.Progress(total, pending)
	}
	return progress, nil
}

// HandleUploaded downloads, extracts and ingests an uploaded document.
func (s *DocumentService) HandleUploaded(ctx context.Context, event *models.DocumentUploaded) error {
	if s.pipeline == nil {
		return errors.New("document processing is not enabled")
	}
	if err := validator.Struct(event); err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidEvent, err)
	}
	if event.ID == uuid.Nil {
		return fmt.Errorf("%w: document id is required", models.ErrInvalidEvent)
	}

	log := s.logger.With(logger.String("documentId", event.ID.String()), logger.String("userId", event.UserID))

	if cancelled, err := s.registry.IsCancelled(ctx, event.ID.String()); err != nil {
		return fmt.Errorf("failed to read cancellation flag: %w", err)
	} else if cancelled {
		log.Info("Document deleted before processing, skipping")
		return nil
	}

	doc, err := s.upsert(ctx, event)
	if err != nil {
		return err
	}
	if doc.Status == models.StatusProcessed || doc.Status == models.StatusCancelled {
		log.Info("Document already handled", logger.String("status", string(doc.Status)))
		return nil
	}

	// 重复投递时块已经存在，交给 sweep 继续生成向量
	if total, _, err := s.store.CountChunks(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to count chunks: %w", err)
	} else if total > 0 {
		log.Info("Document already chunked", logger.Int("chunks", total))
		return nil
	}

	data, err := s.fetcher.Fetch(ctx, event.DownloadURL, event.UserID)
	if err != nil {
		log.Error("Failed to fetch document", logger.Error(err))
		if errors.Is(err, ErrTooLarge) || errors.Is(err, storage.ErrObjectNotFound) {
			s.fail(ctx, doc, err, log)
			return fmt.Errorf("%w: %w", agentdoc.ErrExtractionFailed, err)
		}
		return err
	}

	start := s.now()
	pages, err := s.extractor.Extract(ctx, data, doc.ContentType, doc.Name)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.fail(ctx, doc, err, log)
		if errors.Is(err, agentdoc.ErrUnsupportedFormat) {
			return err
		}
		return fmt.Errorf("%w: %w", agentdoc.ErrExtractionFailed, err)
	}
	log.Info("Document extracted",
		logger.Int("pages", len(pages)),
		logger.Duration("elapsed", s.now().Sub(start)),
	)

	n, err := s.pipeline.Ingest(ctx, doc, pages)
	if err != nil {
		return fmt.Errorf("failed to ingest document: %w", err)
	}

	log.Info("Document ingested", logger.Int("chunks", n))
	return nil
}

// HandleDeleted removes the document's chunks.
func (s *DocumentService) HandleDeleted(ctx context.Context, event *models.DocumentDeleted) error {
	if s.pipeline == nil {
		return errors.New("document processing is not enabled")
	}
	if err := validator.Struct(event); err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidEvent, err)
	}
	if event.DocumentID == uuid.Nil {
		return fmt.Errorf("%w: document id is required", models.ErrInvalidEvent)
	}

	ref := models.DocumentRef{ID: event.DocumentID, UserID: event.UserID}
	if doc, err := s.store.GetDocument(ctx, event.DocumentID); err == nil {
		ref.Name = doc.Name
	}
	return s.pipeline.Cancel(ctx, ref)
}

func (s *DocumentService) upsert(ctx context.Context, event *models.DocumentUploaded) (*models.Document, error) {
	doc, err := s.store.GetDocument(ctx, event.ID)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	// 外部上传的文档首次出现
	doc = &models.Document{
		ID:          event.ID,
		UserID:      event.UserID,
		Name:        event.Name,
		Size:        event.Size,
		ContentType: event.ContentType,
		Status:      models.StatusUploaded,
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}
	return doc, nil
}

func (s *DocumentService) owned(ctx context.Context, userID string, id uuid.UUID) (*models.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return doc, nil
}

func (s *DocumentService) fail(ctx context.Context, doc *models.Document, cause error, log logger.Logger) {
	if err := s.store.UpdateStatus(ctx, doc.ID, models.StatusProcessingError, cause.Error()); err != nil {
		log.Error("Failed to mark document failed", logger.Error(err))
	}
	s.publish(ctx, models.TopicDocumentsProcessingError, doc.ID, models.DocumentProcessingError{
		ID:     doc.ID,
		UserID: doc.UserID,
		Name:   doc.Name,
		Error:  cause.Error(),
	})
}

func (s *DocumentService) publish(ctx context.Context, topic string, id uuid.UUID, event any) {
	if err := s.publisher.Publish(ctx, topic, id.String(), event); err != nil {
		s.logger.Error("Failed to publish event",
			logger.String("topic", topic),
			logger.String("documentId", id.String()),
			logger.Error(err),
		)
	}
}
