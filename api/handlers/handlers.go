package handlers

import (
	"github.com/feichai0017/vectordocs/internal/service/document"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

type Handlers struct {
	Document *DocumentHandler
	Search   *SearchHandler
	Answer   *AnswerHandler
}

func NewHandlers(
	documentService document.DocumentManager,
	searchService Searcher,
	answerService Answerer,
	maxUploadSize int64,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(documentService, maxUploadSize, log),
		Search:   NewSearchHandler(searchService, log),
		Answer:   NewAnswerHandler(answerService, log),
	}
}
