package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/vectordocs/internal/chunker"
	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/pkg/cancel"
	"github.com/feichai0017/vectordocs/pkg/events"
	"github.com/feichai0017/vectordocs/pkg/logger"
	"github.com/feichai0017/vectordocs/pkg/store/memory"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, texts []string) ([][]float32, error)
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(call, texts)
	}
	return vectors(len(texts)), nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func vectors(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out
}

type recordingScheduler struct {
	mu   sync.Mutex
	refs []models.DocumentRef
}

func (s *recordingScheduler) Schedule(_ context.Context, ref models.DocumentRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, ref)
	return nil
}

type fixture struct {
	pipeline  *Pipeline
	store     *memory.Store
	embedder  *fakeEmbedder
	events    *events.Recorder
	registry  *cancel.MemoryRegistry
	scheduler *recordingScheduler
	sleeps    []time.Duration
	log       *logger.TestLogger
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		embedder:  &fakeEmbedder{},
		events:    events.NewRecorder(),
		registry:  cancel.NewMemoryRegistry(time.Hour),
		scheduler: &recordingScheduler{},
		log:       logger.NewTestLogger(),
	}
	f.pipeline = NewPipeline(f.store, chunker.New(10, 0, nil), f.embedder, f.events, f.registry, f.scheduler, cfg, f.log)
	f.pipeline.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

func (f *fixture) document(t *testing.T) *models.Document {
	t.Helper()
	doc := &models.Document{
		ID:     uuid.New(),
		UserID: "user-1",
		Name:   "report.pdf",
		Status: models.StatusUploaded,
	}
	require.NoError(t, f.store.SaveDocument(context.Background(), doc))
	return doc
}

func fortyFive() []models.PageText {
	return []models.PageText{{Number: 1, Text: strings.Repeat("a", 25)}, {Number: 2, Text: strings.Repeat("b", 20)}}
}

func TestIngestAndProcessDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BatchSize: 2, MaxAttempts: 3, Backoff: time.Second})
	doc := f.document(t)

	n, err := f.pipeline.Ingest(ctx, doc, fortyFive())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Len(t, f.scheduler.refs, 1)
	assert.Equal(t, doc.Ref(), f.scheduler.refs[0])

	stored, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, stored.Status)

	require.NoError(t, f.pipeline.ProcessDocument(ctx, doc.Ref()))
	assert.Equal(t, 3, f.embedder.Calls())

	total, pending, err := f.store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Zero(t, pending)

	progress := f.events.Messages(models.TopicDocumentsProcessing)
	require.Len(t, progress, 2)
	assert.Equal(t, 40, progress[0].Event.(models.DocumentProcessing).ProgressPercentage)
	assert.Equal(t, 80, progress[1].Event.(models.DocumentProcessing).ProgressPercentage)

	processed := f.events.Messages(models.TopicDocumentsProcessed)
	require.Len(t, processed, 1)
	assert.Equal(t, doc.ID.String(), processed[0].Key)
	assert.Equal(t, 5, processed[0].Event.(models.DocumentProcessed).EmbeddingsCount)

	stored, err = f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, stored.Status)
	assert.Empty(t, f.sleeps)
	assert.Zero(t, f.pipeline.locks.Len())
}

func TestIngestWithoutTextFinishesImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	doc := f.document(t)

	n, err := f.pipeline.Ingest(ctx, doc, []models.PageText{{Number: 1, Text: "  \n\t "}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.scheduler.refs)

	processed := f.events.Messages(models.TopicDocumentsProcessed)
	require.Len(t, processed, 1)
	assert.Zero(t, processed[0].Event.(models.DocumentProcessed).EmbeddingsCount)

	stored, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, stored.Status)
}

func TestEmbeddingRetriesWithLinearBackoff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BatchSize: 10, MaxAttempts: 3, Backoff: time.Second})
	f.embedder.fn = func(call int, texts []string) ([][]float32, error) {
		if call < 3 {
			return nil, errors.New("connection refused")
		}
		return vectors(len(texts)), nil
	}
	doc := f.document(t)

	_, err := f.pipeline.Ingest(ctx, doc, fortyFive())
	require.NoError(t, err)
	require.NoError(t, f.pipeline.ProcessDocument(ctx, doc.Ref()))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeps)
	assert.Len(t, f.events.Messages(models.TopicDocumentsProcessed), 1)
	assert.True(t, f.log.HasMessage("WARN", "Embedding attempt failed"))
}

func TestEmbeddingFailureMarksDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BatchSize: 2, MaxAttempts: 3, Backoff: time.Second})
	f.embedder.fn = func(_ int, texts []string) ([][]float32, error) {
		return nil, errors.New("model not loaded")
	}
	doc := f.document(t)

	_, err := f.pipeline.Ingest(ctx, doc, fortyFive())
	require.NoError(t, err)

	err = f.pipeline.ProcessDocument(ctx, doc.Ref())
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "model not loaded")
	assert.Equal(t, 3, f.embedder.Calls())
	assert.Len(t, f.sleeps, 2)

	failures := f.events.Messages(models.TopicDocumentsProcessingError)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Event.(models.DocumentProcessingError).Error, "model not loaded")

	stored, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessingError, stored.Status)

	_, pending, err := f.store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, pending)
}

func TestVectorCountMismatchIsAFailedAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BatchSize: 5, MaxAttempts: 2})
	f.embedder.fn = func(call int, texts []string) ([][]float32, error) {
		if call == 1 {
			return vectors(len(texts) - 1), nil
		}
		return vectors(len(texts)), nil
	}
	doc := f.document(t)

	_, err := f.pipeline.Ingest(ctx, doc, fortyFive())
	require.NoError(t, err)
	require.NoError(t, f.pipeline.ProcessDocument(ctx, doc.Ref()))
	assert.Equal(t, 2, f.embedder.Calls())
}

func TestCancelStopsProcessing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BatchSize: 2})
	doc := f.document(t)

	_, err := f.pipeline.Ingest(ctx, doc, fortyFive())
	require.NoError(t, err)
	require.NoError(t, f.pipeline.Cancel(ctx, doc.Ref()))

	require.NoError(t, f.pipeline.ProcessDocument(ctx, doc.Ref()))
	assert.Zero(t, f.embedder.Calls())

	total, _, err := f.store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, total)

	stored, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Empty(t, f.events.Messages(models.TopicDocumentsProcessed))
}

func TestCancelDuringBatchStopsAfterPersist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BatchSize: 2})
	doc := f.document(t)
	f.embedder.fn = func(call int, texts []string) ([][]float32, error) {
		if call == 1 {
			require.NoError(t, f.registry.Cancel(ctx, doc.ID.String()))
		}
		return vectors(len(texts)), nil
	}

	_, err := f.pipeline.Ingest(ctx, doc, fortyFive())
	require.NoError(t, err)
	require.NoError(t, f.pipeline.ProcessDocument(ctx, doc.Ref()))

	assert.Equal(t, 1, f.embedder.Calls())
	assert.Empty(t, f.events.Messages(models.TopicDocumentsProcessing))
	assert.Empty(t, f.events.Messages(models.TopicDocumentsProcessed))
}

func TestIngestAfterCancelStaysDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BatchSize: 2})
	doc := f.document(t)

	require.NoError(t, f.pipeline.Cancel(ctx, doc.Ref()))
	n, err := f.pipeline.Ingest(ctx, doc, fortyFive())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.scheduler.refs)

	// the registry flag expires, the row keeps the document cancelled
	require.NoError(t, f.registry.Forget(ctx, doc.ID.String()))
	scheduled, err := f.pipeline.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, scheduled)
	require.NoError(t, f.pipeline.ProcessDocument(ctx, doc.Ref()))

	total, _, err := f.store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, f.embedder.Calls())

	stored, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Empty(t, f.events.Messages(models.TopicDocumentsProcessed))

	hits, err := f.store.TopK(ctx, doc.UserID, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIngestEmptyDocumentAfterCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	doc := f.document(t)

	require.NoError(t, f.pipeline.Cancel(ctx, doc.Ref()))
	n, err := f.pipeline.Ingest(ctx, doc, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Empty(t, f.events.Messages(models.TopicDocumentsProcessed))
}

func TestSweepDropsChunksOfCancelledDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	doc := f.document(t)

	require.NoError(t, f.store.SaveChunks(ctx, []models.Chunk{
		{DocumentID: doc.ID, UserID: doc.UserID, FileName: doc.Name, Text: "left behind", PageNumber: 1},
	}))
	require.NoError(t, f.store.UpdateStatus(ctx, doc.ID, models.StatusCancelled, ""))

	n, err := f.pipeline.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.scheduler.refs)

	total, _, err := f.store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestContextCancellationLeavesDocumentPending(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	f := newFixture(t, Config{BatchSize: 2, MaxAttempts: 3})
	f.embedder.fn = func(_ int, _ []string) ([][]float32, error) {
		cancelFn()
		return nil, context.Canceled
	}
	doc := f.document(t)

	_, err := f.pipeline.Ingest(context.Background(), doc, fortyFive())
	require.NoError(t, err)

	err = f.pipeline.ProcessDocument(ctx, doc.Ref())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.embedder.Calls())
	assert.Empty(t, f.events.Messages(models.TopicDocumentsProcessingError))

	stored, err := f.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, stored.Status)
}

func TestSweepSchedulesPendingDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	first := f.document(t)
	second := f.document(t)

	_, err := f.pipeline.Ingest(ctx, first, fortyFive())
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(ctx, second, fortyFive())
	require.NoError(t, err)
	require.NoError(t, f.registry.Cancel(ctx, second.ID.String()))
	f.scheduler.refs = nil

	n, err := f.pipeline.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.scheduler.refs, 1)
	assert.Equal(t, first.ID, f.scheduler.refs[0].ID)
}

func TestSweepSkipsFailedDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	doc := f.document(t)

	_, err := f.pipeline.Ingest(ctx, doc, fortyFive())
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateStatus(ctx, doc.ID, models.StatusProcessingError, "embedding failed"))
	f.scheduler.refs = nil

	n, err := f.pipeline.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.scheduler.refs)
}

func TestConcurrentProcessingEmbedsEachChunkOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BatchSize: 1})
	doc := f.document(t)

	_, err := f.pipeline.Ingest(ctx, doc, fortyFive())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.pipeline.ProcessDocument(ctx, doc.Ref()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, f.embedder.Calls())
	assert.Len(t, f.events.Messages(models.TopicDocumentsProcessed), 1)
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0, Progress(0, 0))
	assert.Equal(t, 33, Progress(3, 2))
	assert.Equal(t, 67, Progress(3, 1))
	assert.Equal(t, 100, Progress(7, 0))
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.Len())

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
		close(released)
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	<-released
	unlockB()
	assert.Zero(t, k.Len())
}
