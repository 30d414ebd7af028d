package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/pkg/logger"
	"github.com/feichai0017/vectordocs/pkg/store"
)

func TestTopKQueryWithoutDocumentFilter(t *testing.T) {
	sql, args := topKQuery("u1", pgvector.NewVector([]float32{1, 2}), 5, nil)

	assert.NotContains(t, sql, "$4")
	assert.Contains(t, sql, "ORDER BY embedding <=> $1")
	require.Len(t, args, 3)
	assert.Equal(t, "u1", args[1])
	assert.Equal(t, 5, args[2])
}

func TestTopKQueryWithDocumentFilter(t *testing.T) {
	doc := uuid.New()
	sql, args := topKQuery("u1", pgvector.NewVector([]float32{1}), 3, &doc)

	assert.Contains(t, sql, "AND document_id = $4")
	require.Len(t, args, 4)
	assert.Equal(t, doc, args[3])
}

func TestSchemaUsesConfiguredDimension(t *testing.T) {
	stmts := schema(1536)
	assert.Contains(t, stmts[2], "vector(1536)")
	assert.Contains(t, stmts[len(stmts)-1], "vector_cosine_ops")
}

// newTestStore connects to POSTGRES_TEST_DSN, skipping when it is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	s, err := New(context.Background(), Config{DSN: dsn, EmbeddingDim: 3}, logger.NewNopLogger())
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := &models.Document{ID: uuid.New(), UserID: "u-" + uuid.NewString(), Name: "a.pdf", Status: models.StatusUploaded}
	require.NoError(t, s.SaveDocument(ctx, doc))
	t.Cleanup(func() { _, _ = s.DeleteChunks(context.Background(), doc.ID) })

	require.NoError(t, s.SaveChunks(ctx, []models.Chunk{
		{DocumentID: doc.ID, UserID: doc.UserID, FileName: doc.Name, Text: "x", PageNumber: 1},
		{DocumentID: doc.ID, UserID: doc.UserID, FileName: doc.Name, Text: "y", PageNumber: 2},
	}))

	pending, err := s.PendingChunks(ctx, doc.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	pending[0].Embedding = []float32{1, 0, 0}
	pending[1].Embedding = []float32{0, 1, 0}
	require.NoError(t, s.SaveEmbeddings(ctx, pending))

	total, left, err := s.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Zero(t, left)

	hits, err := s.TopK(ctx, doc.UserID, []float32{0, 1, 0}, 1, &doc.ID)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "y", hits[0].ChunkText)
	assert.Equal(t, 2, hits[0].PageNumber)

	require.NoError(t, s.UpdateStatus(ctx, doc.ID, models.StatusProcessed, ""))
	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, got.Status)

	assert.ErrorIs(t, s.UpdateStatus(ctx, uuid.New(), models.StatusProcessed, ""), store.ErrNotFound)
}
