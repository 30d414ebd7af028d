package document

import (
	"context"

	"github.com/google/uuid"

	"github.com/feichai0017/vectordocs/internal/models"
)

// DocumentManager is the API side of the document lifecycle.
type DocumentManager interface {
	Upload(ctx context.Context, req UploadRequest) (*models.Document, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	GetStatus(ctx context.Context, userID string, id uuid.UUID) (*models.DocumentProgress, error)
}

// DocumentProcessor is the worker side: it consumes lifecycle events.
type DocumentProcessor interface {
	HandleUploaded(ctx context.Context, event *models.DocumentUploaded) error
	HandleDeleted(ctx context.Context, event *models.DocumentDeleted) error
}

// Extractor turns document bytes into pages.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType, fileName string) ([]models.PageText, error)
}

// Pipeline takes extracted pages through chunking and embedding.
type Pipeline interface {
	Ingest(ctx context.Context, doc *models.Document, pages []models.PageText) (int, error)
	Cancel(ctx context.Context, ref models.DocumentRef) error
}

type UploadRequest struct {
	UserID      string
	FileName    string
	ContentType string
	Data        []byte
}
