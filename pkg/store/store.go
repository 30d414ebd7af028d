// Package store defines persistence for documents, chunks and the vector
// index over chunk embeddings.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/feichai0017/vectordocs/internal/models"
)

var ErrNotFound = errors.New("not found")

type DocumentStore interface {
	// SaveDocument inserts the document or overwrites an existing row.
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	// UpdateStatus returns ErrNotFound when the document does not exist.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, reason string) error
}

type ChunkStore interface {
	// SaveChunks persists chunks without vectors.
	SaveChunks(ctx context.Context, chunks []models.Chunk) error
	// PendingChunks returns up to limit chunks of the document that still
	// need a vector, in insertion order.
	PendingChunks(ctx context.Context, documentID uuid.UUID, limit int) ([]models.Chunk, error)
	// SaveEmbeddings stores Embedding and marks each chunk generated. Chunks
	// deleted in the meantime are ignored.
	SaveEmbeddings(ctx context.Context, chunks []models.Chunk) error
	// CountChunks returns the number of chunks and how many still lack a vector.
	CountChunks(ctx context.Context, documentID uuid.UUID) (total, pending int, err error)
	// PendingDocuments lists documents with at least one chunk lacking a vector.
	PendingDocuments(ctx context.Context) ([]models.DocumentRef, error)
	DeleteChunks(ctx context.Context, documentID uuid.UUID) (int64, error)
}

// VectorIndex answers nearest neighbour queries over generated vectors.
type VectorIndex interface {
	// TopK returns at most topK hits owned by userID, by ascending cosine
	// distance, optionally restricted to one document.
	TopK(ctx context.Context, userID string, query []float32, topK int, documentID *uuid.UUID) ([]models.Hit, error)
}

type Store interface {
	DocumentStore
	ChunkStore
	VectorIndex
	Close()
}
