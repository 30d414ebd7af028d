package models

import (
	"github.com/google/uuid"
)

type SearchRequest struct {
	Query      string     `json:"query" validate:"required"`
	UserID     string     `json:"userId" validate:"required"`
	DocumentID *uuid.UUID `json:"documentId,omitempty"`
	TopK       int        `json:"topK" validate:"gte=0,lte=50"`
}

type SearchResponse struct {
	Query string `json:"query"`
	Hits  []Hit  `json:"hits"`
}

// ChatTurn is one earlier message of the conversation.
type ChatTurn struct {
	Role    string `json:"role" validate:"oneof=user agent"`
	Message string `json:"message"`
}

type AnswerRequest struct {
	RequestID  string     `json:"requestId"`
	Query      string     `json:"query" validate:"required"`
	UserID     string     `json:"userId" validate:"required"`
	DocumentID *uuid.UUID `json:"documentId,omitempty"`
	TopK       int        `json:"topK" validate:"gte=0,lte=50"`
	Context    []ChatTurn `json:"context,omitempty" validate:"dive"`
}
