// Package memory is an in-process store with brute force vector search.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/pkg/store"
)

type Store struct {
	mu        sync.RWMutex
	documents map[uuid.UUID]models.Document
	chunks    map[int64]*models.Chunk
	nextID    int64
	now       func() time.Time
}

func New() *Store {
	return &Store{
		documents: make(map[uuid.UUID]models.Document),
		chunks:    make(map[int64]*models.Chunk),
		now:       time.Now,
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) SaveDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := *doc
	now := s.now()
	if existing, ok := s.documents[d.ID]; ok {
		d.CreatedAt = existing.CreatedAt
	} else if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	s.documents[d.ID] = d
	return nil
}

func (s *Store) GetDocument(_ context.Context, id uuid.UUID) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return &d, nil
}

func (s *Store) UpdateStatus(_ context.Context, id uuid.UUID, status models.DocumentStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	d.Status = status
	d.Error = reason
	d.UpdatedAt = s.now()
	s.documents[id] = d
	return nil
}

func (s *Store) SaveChunks(_ context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		s.nextID++
		c.ID = s.nextID
		c.Embedding = nil
		c.VectorGenerated = false
		if c.CreatedAt.IsZero() {
			c.CreatedAt = s.now()
		}
		s.chunks[c.ID] = &c
	}
	return nil
}

func (s *Store) PendingChunks(_ context.Context, documentID uuid.UUID, limit int) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Chunk
	for _, c := range s.sorted() {
		if c.DocumentID == documentID && !c.VectorGenerated {
			out = append(out, *c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) SaveEmbeddings(_ context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		stored, ok := s.chunks[c.ID]
		if !ok {
			continue
		}
		stored.Embedding = append([]float32(nil), c.Embedding...)
		stored.VectorGenerated = true
	}
	return nil
}

func (s *Store) CountChunks(_ context.Context, documentID uuid.UUID) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total, pending := 0, 0
	for _, c := range s.chunks {
		if c.DocumentID != documentID {
			continue
		}
		total++
		if !c.VectorGenerated {
			pending++
		}
	}
	return total, pending, nil
}

func (s *Store) PendingDocuments(_ context.Context) ([]models.DocumentRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uuid.UUID]bool)
	var refs []models.DocumentRef
	for _, c := range s.sorted() {
		if c.VectorGenerated || seen[c.DocumentID] {
			continue
		}
		seen[c.DocumentID] = true
		refs = append(refs, models.DocumentRef{ID: c.DocumentID, UserID: c.UserID, Name: c.FileName})
	}
	return refs, nil
}

func (s *Store) DeleteChunks(_ context.Context, documentID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			delete(s.chunks, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) TopK(_ context.Context, userID string, query []float32, topK int, documentID *uuid.UUID) ([]models.Hit, error) {
	if topK <= 0 {
		return []models.Hit{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		chunk    *models.Chunk
		distance float64
	}
	var candidates []scored
	for _, c := range s.chunks {
		if c.UserID != userID || !c.VectorGenerated || len(c.Embedding) == 0 {
			continue
		}
		if documentID != nil && c.DocumentID != *documentID {
			continue
		}
		if len(c.Embedding) != len(query) {
			return nil, fmt.Errorf("vector dimension mismatch: query %d, chunk %d has %d", len(query), c.ID, len(c.Embedding))
		}
		candidates = append(candidates, scored{chunk: c, distance: CosineDistance(query, c.Embedding)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].chunk.ID < candidates[j].chunk.ID
	})

	hits := make([]models.Hit, 0, min(topK, len(candidates)))
	for _, sc := range candidates[:min(topK, len(candidates))] {
		hits = append(hits, models.Hit{
			FileUUID:   sc.chunk.DocumentID,
			FileName:   sc.chunk.FileName,
			PageNumber: sc.chunk.PageNumber,
			ChunkText:  sc.chunk.Text,
			Distance:   sc.distance,
		})
	}
	return hits, nil
}

func (s *Store) Close() {}

// sorted returns chunks in insertion order. Callers hold the lock.
func (s *Store) sorted() []*models.Chunk {
	out := make([]*models.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CosineDistance is 1 - cos(a, b); zero vectors are at distance 1.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
