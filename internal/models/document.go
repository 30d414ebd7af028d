package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus tracks a document through ingestion.
type DocumentStatus string

const (
	StatusUploaded        DocumentStatus = "uploaded"
	StatusProcessing      DocumentStatus = "processing"
	StatusProcessed       DocumentStatus = "processed"
	StatusProcessingError DocumentStatus = "processing_error"
	StatusCancelled       DocumentStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case StatusProcessed, StatusProcessingError, StatusCancelled:
		return true
	}
	return false
}

type Document struct {
	ID          uuid.UUID      `json:"id"`
	UserID      string         `json:"userId"`
	Name        string         `json:"name"`
	Size        int64          `json:"size"`
	ContentType string         `json:"contentType"`
	StorageKey  string         `json:"-"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Ref returns the identity the embedding workers carry around.
func (d *Document) Ref() DocumentRef {
	return DocumentRef{ID: d.ID, UserID: d.UserID, Name: d.Name}
}

// DocumentRef identifies a document whose chunks still need vectors.
type DocumentRef struct {
	ID     uuid.UUID `json:"id"`
	UserID string    `json:"userId"`
	Name   string    `json:"name"`
}

// PageText is the extracted text of one page, numbered from 1.
type PageText struct {
	Number int
	Text   string
}

// Chunk is a slice of a document's text and, once generated, its vector.
type Chunk struct {
	ID              int64     `json:"id"`
	DocumentID      uuid.UUID `json:"documentId"`
	UserID          string    `json:"userId"`
	FileName        string    `json:"fileName"`
	Text            string    `json:"text"`
	PageNumber      int       `json:"pageNumber"`
	TokenCount      int       `json:"tokenCount"`
	Embedding       []float32 `json:"-"`
	VectorGenerated bool      `json:"vectorGenerated"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Hit is one nearest-neighbour result.
type Hit struct {
	FileUUID   uuid.UUID `json:"fileUuid"`
	FileName   string    `json:"fileName"`
	PageNumber int       `json:"pageNumber"`
	ChunkText  string    `json:"chunkText"`
	Distance   float64   `json:"distance"`
}

// DocumentProgress is the status view served to clients.
type DocumentProgress struct {
	Document
	TotalChunks        int `json:"totalChunks"`
	PendingChunks      int `json:"pendingChunks"`
	ProgressPercentage int `json:"progressPercentage"`
}
