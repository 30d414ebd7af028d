// Package answer streams LLM answers grounded in retrieved chunks, with the
// citation block lifted out of the text and delivered as sources.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/internal/utils/validator"
	"github.com/feichai0017/vectordocs/pkg/citation"
	"github.com/feichai0017/vectordocs/pkg/converters"
	"github.com/feichai0017/vectordocs/pkg/llm"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

const EventChatResponse = "chat.response"

// Frame is one message pushed to the client.
type Frame struct {
	Event     string            `json:"event"`
	RequestID string            `json:"requestId"`
	Token     string            `json:"token,omitempty"`
	Sources   []citation.Source `json:"sources,omitempty"`
	Complete  bool              `json:"complete,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// EmitFunc delivers a frame. An error stops the stream.
type EmitFunc func(Frame) error

type Searcher interface {
	Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error)
}

type Service struct {
	searcher  Searcher
	generator llm.Generator
	parser    *citation.Parser
	converter *converters.JSONConverter
	logger    logger.Logger
}

func NewService(searcher Searcher, generator llm.Generator, parser *citation.Parser, log logger.Logger) *Service {
	return &Service{
		searcher:  searcher,
		generator: generator,
		parser:    parser,
		converter: converters.NewJSONConverter(),
		logger:    log.Named("answer"),
	}
}

// Stream answers req, emitting visible tokens as they arrive and a final
// frame with Complete set. The request id is generated when empty.
func (s *Service) Stream(ctx context.Context, req *models.AnswerRequest, emit EmitFunc) error {
	if err := validator.Struct(req); err != nil {
		return err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := s.logger.With(logger.String("requestId", req.RequestID), logger.String("userId", req.UserID))

	query := s.searchQuery(ctx, req, log)
	resp, err := s.searcher.Search(ctx, &models.SearchRequest{
		Query:      query,
		UserID:     req.UserID,
		DocumentID: req.DocumentID,
		TopK:       req.TopK,
	})
	if err != nil {
		return fmt.Errorf("failed to search: %w", err)
	}

	relay := &relay{id: req.RequestID, parser: s.parser, emit: emit}
	defer relay.close()

	if len(resp.Hits) == 0 {
		log.Info("No fragments found, streaming insufficiency message")
		if err := relay.token(NoAnswer); err != nil {
			return err
		}
		return relay.finish()
	}

	fragments, err := s.converter.Fragments(resp.Hits)
	if err != nil {
		return err
	}

	tokens, err := s.generator.GenerateStreamingAnswer(ctx, BuildMessages(req.Query, req.Context, fragments))
	if err != nil {
		return fmt.Errorf("failed to start generation: %w", err)
	}

	count := 0
	for tok := range tokens {
		if tok.Err != nil {
			log.Error("Error during LLM streaming", logger.Error(tok.Err))
			_ = emit(Frame{Event: EventChatResponse, RequestID: req.RequestID, Error: tok.Err.Error(), Complete: true})
			return fmt.Errorf("failed to generate answer: %w", tok.Err)
		}
		count++
		if err := relay.token(tok.Text); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	log.Info("Completed streaming answer", logger.Int("tokens", count), logger.Int("fragments", len(resp.Hits)))
	return relay.finish()
}

// searchQuery rewrites the question into a standalone query when there is
// conversation history. Failures fall back to the question itself.
func (s *Service) searchQuery(ctx context.Context, req *models.AnswerRequest, log logger.Logger) string {
	if len(req.Context) == 0 {
		return req.Query
	}

	tokens, err := s.generator.GenerateStreamingAnswer(ctx, buildRewriteMessages(req.Query, req.Context))
	if err != nil {
		log.Warn("Failed to rewrite query", logger.Error(err))
		return req.Query
	}

	var sb strings.Builder
	for tok := range tokens {
		if tok.Err != nil {
			log.Warn("Failed to rewrite query", logger.Error(tok.Err))
			return req.Query
		}
		sb.WriteString(tok.Text)
	}

	rewritten := strings.TrimSpace(sb.String())
	if rewritten == "" {
		return req.Query
	}
	log.Debug("Query rewritten", logger.String("query", rewritten))
	return rewritten
}

// relay feeds tokens through the citation parser for one request.
type relay struct {
	id          string
	parser      *citation.Parser
	emit        EmitFunc
	sourcesSent bool
	closed      bool
}

func (r *relay) token(text string) error {
	visible := r.parser.ProcessToken(r.id, text)

	frame := Frame{Event: EventChatResponse, RequestID: r.id, Token: visible}
	if !r.sourcesSent && r.parser.IsSourcesReady(r.id) {
		frame.Sources = r.parser.GetSources(r.id)
		r.sourcesSent = true
	}
	if frame.Token == "" && frame.Sources == nil {
		return nil
	}
	return r.send(frame)
}

// finish flushes withheld text and sends the completion frame.
func (r *relay) finish() error {
	var sources []citation.Source
	if !r.sourcesSent && r.parser.IsSourcesReady(r.id) {
		sources = r.parser.GetSources(r.id)
		r.sourcesSent = true
	}
	rest := r.parser.Complete(r.id)
	r.closed = true

	if rest != "" {
		if err := r.send(Frame{Event: EventChatResponse, RequestID: r.id, Token: rest}); err != nil {
			return err
		}
	}
	return r.send(Frame{Event: EventChatResponse, RequestID: r.id, Sources: sources, Complete: true})
}

func (r *relay) close() {
	if !r.closed {
		r.parser.Complete(r.id)
		r.closed = true
	}
}

func (r *relay) send(f Frame) error {
	if err := r.emit(f); err != nil {
		return fmt.Errorf("%w: %w", ErrClientGone, err)
	}
	return nil
}

// ErrClientGone wraps errors returned by the emit callback.
var ErrClientGone = errors.New("client stopped receiving")
