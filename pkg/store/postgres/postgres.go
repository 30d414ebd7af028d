// Package postgres stores documents and chunks in PostgreSQL with the
// pgvector extension providing the vector index.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/pkg/logger"
	"github.com/feichai0017/vectordocs/pkg/store"
)

type Config struct {
	DSN          string
	MaxConns     int32
	EmbeddingDim int
}

type Store struct {
	pool   *pgxpool.Pool
	logger logger.Logger
	dim    int
}

var _ store.Store = (*Store)(nil)

// New connects and makes sure the schema exists.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Store{pool: pool, logger: log, dim: cfg.EmbeddingDim}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dim) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.logger.Info("Postgres schema ready", logger.Int("embeddingDim", s.dim))
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) SaveDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	created := doc.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.pool.Exec(ctx, upsertDocumentSQL,
		doc.ID, doc.UserID, doc.Name, doc.Size, doc.ContentType, doc.StorageKey,
		string(doc.Status), doc.Error, created, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var (
		doc    models.Document
		status string
	)
	err := s.pool.QueryRow(ctx, selectDocumentSQL, id).Scan(
		&doc.ID, &doc.UserID, &doc.Name, &doc.Size, &doc.ContentType, &doc.StorageKey,
		&status, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	doc.Status = models.DocumentStatus(status)
	return &doc, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, reason string) error {
	tag, err := s.pool.Exec(ctx, updateStatusSQL, id, string(status), reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update status of %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) SaveChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"chunks"},
		[]string{"document_id", "user_id", "file_name", "chunk_text", "page_number", "token_count", "vector_generated", "created_at"},
		pgx.CopyFromSlice(len(chunks), func(i int) ([]any, error) {
			c := chunks[i]
			created := c.CreatedAt
			if created.IsZero() {
				created = now
			}
			return []any{c.DocumentID, c.UserID, c.FileName, c.Text, c.PageNumber, c.TokenCount, false, created}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to save %d chunks: %w", len(chunks), err)
	}
	return nil
}

func (s *Store) PendingChunks(ctx context.Context, documentID uuid.UUID, limit int) ([]models.Chunk, error) {
	rows, err := s.pool.Query(ctx, pendingChunksSQL, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.UserID, &c.FileName, &c.Text, &c.PageNumber, &c.TokenCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending chunks: %w", err)
	}
	return chunks, nil
}

func (s *Store) SaveEmbeddings(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(saveEmbeddingSQL, pgvector.NewVector(c.Embedding), c.ID)
	}
	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to save embedding: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit embeddings: %w", err)
	}
	return nil
}

func (s *Store) CountChunks(ctx context.Context, documentID uuid.UUID) (int, int, error) {
	var total, pending int
	if err := s.pool.QueryRow(ctx, countChunksSQL, documentID).Scan(&total, &pending); err != nil {
		return 0, 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return total, pending, nil
}

func (s *Store) PendingDocuments(ctx context.Context) ([]models.DocumentRef, error) {
	rows, err := s.pool.Query(ctx, pendingDocumentsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending documents: %w", err)
	}
	defer rows.Close()

	var refs []models.DocumentRef
	for rows.Next() {
		var ref models.DocumentRef
		if err := rows.Scan(&ref.ID, &ref.UserID, &ref.Name); err != nil {
			return nil, fmt.Errorf("failed to scan pending document: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *Store) DeleteChunks(ctx context.Context, documentID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, deleteChunksSQL, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) TopK(ctx context.Context, userID string, query []float32, topK int, documentID *uuid.UUID) ([]models.Hit, error) {
	hits := make([]models.Hit, 0, max(topK, 0))
	if topK <= 0 {
		return hits, nil
	}

	sql, args := topKQuery(userID, pgvector.NewVector(query), topK, documentID)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h models.Hit
		if err := rows.Scan(&h.FileUUID, &h.FileName, &h.PageNumber, &h.ChunkText, &h.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hits: %w", err)
	}
	return hits, nil
}

// topKQuery builds the nearest neighbour query; the optional document
// filter adds a fourth parameter.
func topKQuery(userID string, query pgvector.Vector, topK int, documentID *uuid.UUID) (string, []any) {
	args := []any{query, userID, topK}
	filter := ""
	if documentID != nil {
		args = append(args, *documentID)
		filter = " AND document_id = $4"
	}
	return fmt.Sprintf(topKSQL, filter), args
}
