// Package embedding turns extracted pages into chunks and fills in their
// vectors in the background.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/vectordocs/internal/chunker"
	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/pkg/cancel"
	"github.com/feichai0017/vectordocs/pkg/events"
	"github.com/feichai0017/vectordocs/pkg/llm"
	"github.com/feichai0017/vectordocs/pkg/logger"
	"github.com/feichai0017/vectordocs/pkg/store"
)

// ErrEmbeddingFailed wraps the last error once every attempt is used up.
var ErrEmbeddingFailed = errors.New("embedding generation failed")

// Scheduler runs ProcessDocument for a document at some later point.
type Scheduler interface {
	Schedule(ctx context.Context, ref models.DocumentRef) error
}

// Unscheduler is implemented by schedulers that can drop work that has
// not started yet.
type Unscheduler interface {
	Unschedule(ctx context.Context, ref models.DocumentRef) error
}

// Store is the persistence the pipeline needs.
type Store interface {
	store.DocumentStore
	store.ChunkStore
}

type Config struct {
	BatchSize   int
	MaxAttempts int
	Backoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	return c
}

type Pipeline struct {
	store     Store
	chunker   *chunker.Chunker
	embedder  llm.Embedder
	publisher events.Publisher
	registry  cancel.Registry
	scheduler Scheduler
	locks     *KeyedMutex
	config    Config
	logger    logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewPipeline(
	st Store,
	ch *chunker.Chunker,
	embedder llm.Embedder,
	publisher events.Publisher,
	registry cancel.Registry,
	scheduler Scheduler,
	cfg Config,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		store:     st,
		chunker:   ch,
		embedder:  embedder,
		publisher: publisher,
		registry:  registry,
		scheduler: scheduler,
		locks:     NewKeyedMutex(),
		config:    cfg.withDefaults(),
		logger:    log,
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// Ingest chunks the pages, stores the chunks without vectors and schedules
// vector generation. It returns the number of chunks created.
func (p *Pipeline) Ingest(ctx context.Context, doc *models.Document, pages []models.PageText) (int, error) {
	log := p.logger.With(logger.String("documentId", doc.ID.String()), logger.String("userId", doc.UserID))

	// Cancel may have run while the document was being extracted.
	unlock := p.locks.Lock(doc.ID.String())
	defer unlock()
	if cancelled, err := p.cancelled(ctx, doc.ID, log); err != nil {
		return 0, err
	} else if cancelled {
		log.Info("Document deleted during extraction, dropping pages")
		return 0, nil
	}

	chunks := p.chunker.Split(pages)
	now := p.now().UTC()
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
		chunks[i].UserID = doc.UserID
		chunks[i].FileName = doc.Name
		chunks[i].CreatedAt = now
	}

	if len(chunks) == 0 {
		log.Info("Document has no text, nothing to embed")
		if err := p.store.UpdateStatus(ctx, doc.ID, models.StatusProcessed, ""); err != nil {
			return 0, fmt.Errorf("failed to mark document processed: %w", err)
		}
		p.publish(ctx, models.TopicDocumentsProcessed, doc.Ref(), models.DocumentProcessed{
			ID: doc.ID, UserID: doc.UserID, Name: doc.Name, EmbeddingsCount: 0,
		})
		return 0, nil
	}

	if err := p.store.SaveChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to save chunks: %w", err)
	}
	if err := p.store.UpdateStatus(ctx, doc.ID, models.StatusProcessing, ""); err != nil {
		return 0, fmt.Errorf("failed to mark document processing: %w", err)
	}
	if err := p.scheduler.Schedule(ctx, doc.Ref()); err != nil {
		// The sweep picks the document up again.
		log.Error("Failed to schedule embedding generation", logger.Error(err))
	}

	log.Info("Document chunked", logger.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// ProcessDocument generates vectors batch by batch until no chunk of the
// document is pending, the document is cancelled or a batch fails.
func (p *Pipeline) ProcessDocument(ctx context.Context, ref models.DocumentRef) error {
	log := p.logger.With(logger.String("documentId", ref.ID.String()), logger.String("userId", ref.UserID))

	for {
		done, err := p.processBatch(ctx, ref, log)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// processBatch handles one batch under the document lock. It reports
// done when there is nothing left to do.
func (p *Pipeline) processBatch(ctx context.Context, ref models.DocumentRef, log logger.Logger) (bool, error) {
	id := ref.ID.String()

	if cancelled, err := p.isCancelled(ctx, id, log); err != nil || cancelled {
		return true, err
	}

	unlock := p.locks.Lock(id)
	defer unlock()

	if cancelled, err := p.cancelled(ctx, ref.ID, log); err != nil || cancelled {
		return true, err
	}

	pending, err := p.store.PendingChunks(ctx, ref.ID, p.config.BatchSize)
	if err != nil {
		log.Error("Failed to load pending chunks", logger.Error(err))
		return true, fmt.Errorf("failed to load pending chunks: %w", err)
	}
	if len(pending) == 0 {
		return true, nil
	}

	texts := make([]string, len(pending))
	for i, c := range pending {
		texts[i] = c.Text
	}

	vectors, err := p.embedWithRetry(ctx, texts, log)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("Embedding interrupted, leaving chunks for the sweep", logger.Error(err))
			return true, err
		}
		p.fail(ctx, ref, err, log)
		return true, err
	}

	for i := range pending {
		pending[i].Embedding = vectors[i]
		pending[i].VectorGenerated = true
	}
	if err := p.store.SaveEmbeddings(ctx, pending); err != nil {
		log.Error("Failed to save embeddings", logger.Error(err))
		return true, fmt.Errorf("failed to save embeddings: %w", err)
	}

	if cancelled, err := p.isCancelled(ctx, id, log); err != nil || cancelled {
		return true, err
	}

	total, remaining, err := p.store.CountChunks(ctx, ref.ID)
	if err != nil {
		log.Error("Failed to count chunks", logger.Error(err))
		return true, fmt.Errorf("failed to count chunks: %w", err)
	}
	if total == 0 {
		// Deleted underneath us.
		return true, nil
	}

	if remaining == 0 {
		if err := p.store.UpdateStatus(ctx, ref.ID, models.StatusProcessed, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
			return true, fmt.Errorf("failed to mark document processed: %w", err)
		}
		p.publish(ctx, models.TopicDocumentsProcessed, ref, models.DocumentProcessed{
			ID: ref.ID, UserID: ref.UserID, Name: ref.Name, EmbeddingsCount: total,
		})
		log.Info("Embedding generation completed", logger.Int("embeddings", total))
		return true, nil
	}

	progress := Progress(total, remaining)
	p.publish(ctx, models.TopicDocumentsProcessing, ref, models.DocumentProcessing{
		ID: ref.ID, UserID: ref.UserID, Name: ref.Name, ProgressPercentage: progress,
	})
	log.Debug("Embedding batch stored", logger.Int("batch", len(pending)), logger.Int("progress", progress))
	return false, nil
}

// embedWithRetry calls the embedder up to MaxAttempts times, sleeping
// Backoff*attempt between attempts. A vector count mismatch is a failure.
func (p *Pipeline) embedWithRetry(ctx context.Context, texts []string, log logger.Logger) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		vectors, err := p.embedder.Embed(ctx, texts)
		if err == nil && len(vectors) != len(texts) {
			err = fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors))
		}
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("Embedding attempt failed",
			logger.Int("attempt", attempt),
			logger.Int("maxAttempts", p.config.MaxAttempts),
			logger.Error(err),
		)
		if attempt == p.config.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, p.config.Backoff*time.Duration(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrEmbeddingFailed, p.config.MaxAttempts, lastErr)
}

func (p *Pipeline) fail(ctx context.Context, ref models.DocumentRef, cause error, log logger.Logger) {
	log.Error("Embedding generation failed", logger.Error(cause))

	if err := p.store.UpdateStatus(ctx, ref.ID, models.StatusProcessingError, cause.Error()); err != nil {
		log.Error("Failed to mark document failed", logger.Error(err))
	}
	p.publish(ctx, models.TopicDocumentsProcessingError, ref, models.DocumentProcessingError{
		ID: ref.ID, UserID: ref.UserID, Name: ref.Name, Error: cause.Error(),
	})
}

// Sweep schedules every document that still has pending chunks.
func (p *Pipeline) Sweep(ctx context.Context) (int, error) {
	refs, err := p.store.PendingDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending documents: %w", err)
	}

	scheduled := 0
	for _, ref := range refs {
		log := p.logger.With(logger.String("documentId", ref.ID.String()))
		if cancelled, err := p.isCancelled(ctx, ref.ID.String(), log); err != nil || cancelled {
			continue
		}
		if doc, err := p.store.GetDocument(ctx, ref.ID); err == nil {
			switch doc.Status {
			case models.StatusProcessingError:
				// failed documents wait for a re-upload
				continue
			case models.StatusCancelled:
				p.dropOrphans(ctx, ref, log)
				continue
			}
		}
		if err := p.scheduler.Schedule(ctx, ref); err != nil {
			log.Error("Failed to schedule pending document", logger.Error(err))
			continue
		}
		scheduled++
	}
	if scheduled > 0 {
		p.logger.Info("Sweep scheduled pending documents", logger.Int("documents", scheduled))
	}
	return scheduled, nil
}

// Cancel stops processing of a document and removes its chunks. A batch
// already in flight completes first.
func (p *Pipeline) Cancel(ctx context.Context, ref models.DocumentRef) error {
	id := ref.ID.String()
	log := p.logger.With(logger.String("documentId", id))

	if err := p.registry.Cancel(ctx, id); err != nil {
		return fmt.Errorf("failed to register cancellation: %w", err)
	}
	if u, ok := p.scheduler.(Unscheduler); ok {
		if err := u.Unschedule(ctx, ref); err != nil {
			log.Warn("Failed to drop scheduled embedding task", logger.Error(err))
		}
	}

	unlock := p.locks.Lock(id)
	defer unlock()

	deleted, err := p.store.DeleteChunks(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := p.store.UpdateStatus(ctx, ref.ID, models.StatusCancelled, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to mark document cancelled: %w", err)
	}

	log.Info("Document cancelled", logger.Int64("deletedChunks", deleted))
	return nil
}

// dropOrphans deletes chunks left behind by a cancelled document.
func (p *Pipeline) dropOrphans(ctx context.Context, ref models.DocumentRef, log logger.Logger) {
	unlock := p.locks.Lock(ref.ID.String())
	defer unlock()

	deleted, err := p.store.DeleteChunks(ctx, ref.ID)
	if err != nil {
		log.Error("Failed to delete chunks of cancelled document", logger.Error(err))
		return
	}
	log.Info("Deleted chunks of cancelled document", logger.Int64("deletedChunks", deleted))
}

// cancelled checks the registry, then the document row. The row outlives
// the registry flag, which expires.
func (p *Pipeline) cancelled(ctx context.Context, id uuid.UUID, log logger.Logger) (bool, error) {
	if cancelled, err := p.isCancelled(ctx, id.String(), log); err != nil || cancelled {
		return cancelled, err
	}
	doc, err := p.store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		log.Error("Failed to load document", logger.Error(err))
		return false, fmt.Errorf("failed to load document: %w", err)
	}
	return doc.Status == models.StatusCancelled, nil
}

func (p *Pipeline) isCancelled(ctx context.Context, id string, log logger.Logger) (bool, error) {
	cancelled, err := p.registry.IsCancelled(ctx, id)
	if err != nil {
		log.Error("Failed to read cancellation flag", logger.Error(err))
		return false, fmt.Errorf("failed to read cancellation flag: %w", err)
	}
	if cancelled {
		log.Info("Embedding generation cancelled")
	}
	return cancelled, nil
}

func (p *Pipeline) publish(ctx context.Context, topic string, ref models.DocumentRef, event any) {
	if err := p.publisher.Publish(ctx, topic, ref.ID.String(), event); err != nil {
		p.logger.Error("Failed to publish event",
			logger.String("topic", topic),
			logger.String("documentId", ref.ID.String()),
			logger.Error(err),
		)
	}
}

// Progress is the share of embedded chunks, rounded to a whole percent.
func Progress(total, remaining int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(total-remaining) / float64(total) * 100))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
