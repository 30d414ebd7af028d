package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEvent is returned for events that fail validation.
var ErrInvalidEvent = errors.New("invalid event")

const (
	TopicDocumentsUploaded        = "documents.uploaded"
	TopicDocumentsDeleted         = "documents.deleted"
	TopicDocumentsProcessing      = "documents.processing"
	TopicDocumentsProcessed       = "documents.processed"
	TopicDocumentsProcessingError = "documents.processing.error"
)

// DocumentUploaded is consumed; DownloadURL is either an http(s) URL or a
// storage:// object key.
type DocumentUploaded struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name" validate:"required"`
	Size        int64     `json:"size" validate:"gte=0"`
	UserID      string    `json:"userId" validate:"required"`
	ContentType string    `json:"contentType"`
	DownloadURL string    `json:"downloadUrl" validate:"required"`
}

type DocumentDeleted struct {
	DocumentID uuid.UUID `json:"documentId"`
	UserID     string    `json:"userId" validate:"required"`
	DeletedAt  time.Time `json:"deletedAt"`
}

type DocumentProcessing struct {
	ID                 uuid.UUID `json:"id"`
	UserID             string    `json:"userId"`
	Name               string    `json:"name"`
	ProgressPercentage int       `json:"progressPercentage"`
}

type DocumentProcessed struct {
	ID              uuid.UUID `json:"id"`
	UserID          string    `json:"userId"`
	Name            string    `json:"name"`
	EmbeddingsCount int       `json:"embeddingsCount"`
}

type DocumentProcessingError struct {
	ID     uuid.UUID `json:"id"`
	UserID string    `json:"userId"`
	Name   string    `json:"name"`
	Error  string    `json:"error"`
}
