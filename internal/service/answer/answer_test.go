package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/internal/utils/validator"
	"github.com/feichai0017/vectordocs/pkg/citation"
	"github.com/feichai0017/vectordocs/pkg/llm"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

type stubSearcher struct {
	hits    []models.Hit
	queries []string
}

func (s *stubSearcher) Search(_ context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	s.queries = append(s.queries, req.Query)
	return &models.SearchResponse{Query: req.Query, Hits: s.hits}, nil
}

// scriptedGenerator answers call n with script(n).
type scriptedGenerator struct {
	mu     sync.Mutex
	calls  [][]llm.Message
	script func(call int) []llm.Token
}

func (g *scriptedGenerator) GenerateStreamingAnswer(ctx context.Context, messages []llm.Message) (<-chan llm.Token, error) {
	g.mu.Lock()
	g.calls = append(g.calls, messages)
	call := len(g.calls)
	g.mu.Unlock()

	out := make(chan llm.Token)
	go func() {
		defer close(out)
		for _, tok := range g.script(call) {
			select {
			case out <- tok:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func tokens(texts ...string) []llm.Token {
	out := make([]llm.Token, len(texts))
	for i, t := range texts {
		out[i] = llm.Token{Text: t}
	}
	return out
}

type collector struct {
	frames []Frame
}

func (c *collector) emit(f Frame) error {
	c.frames = append(c.frames, f)
	return nil
}

func (c *collector) text() string {
	var sb strings.Builder
	for _, f := range c.frames {
		sb.WriteString(f.Token)
	}
	return sb.String()
}

func (c *collector) sources() [][]citation.Source {
	var out [][]citation.Source
	for _, f := range c.frames {
		if f.Sources != nil {
			out = append(out, f.Sources)
		}
	}
	return out
}

func hit() models.Hit {
	return models.Hit{FileUUID: uuid.New(), FileName: "a.pdf", PageNumber: 3, ChunkText: "the answer is 42"}
}

func newService(searcher Searcher, gen llm.Generator) (*Service, *citation.Parser) {
	parser := citation.NewParser(time.Minute)
	return NewService(searcher, gen, parser, logger.NewTestLogger()), parser
}

func TestStreamStripsSplitCitationBlock(t *testing.T) {
	gen := &scriptedGenerator{script: func(int) []llm.Token {
		return tokens("The answer", " is 42.\n<BEG", "IN_SOURCES>\nid1/a.pdf/3\n", "<END_SOU", "RCES>")
	}}
	svc, parser := newService(&stubSearcher{hits: []models.Hit{hit()}}, gen)

	c := &collector{}
	req := &models.AnswerRequest{RequestID: "r1", Query: "what is it?", UserID: "u1"}
	require.NoError(t, svc.Stream(context.Background(), req, c.emit))

	assert.Equal(t, "The answer is 42.\n", c.text())
	assert.Equal(t, [][]citation.Source{{{ID: "id1", Name: "a.pdf", Page: "3"}}}, c.sources())

	last := c.frames[len(c.frames)-1]
	assert.True(t, last.Complete)
	for _, f := range c.frames {
		assert.Equal(t, EventChatResponse, f.Event)
		assert.Equal(t, "r1", f.RequestID)
	}
	assert.Zero(t, parser.Len())

	require.Len(t, gen.calls, 1)
	prompt := gen.calls[0]
	assert.Equal(t, llm.RoleSystem, prompt[0].Role)
	assert.Contains(t, prompt[0].Content, citation.BeginTag)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "what is it?"}, prompt[1])
	assert.Contains(t, prompt[2].Content, "the answer is 42")
}

func TestStreamWithoutHits(t *testing.T) {
	gen := &scriptedGenerator{script: func(int) []llm.Token { return nil }}
	svc, _ := newService(&stubSearcher{}, gen)

	c := &collector{}
	require.NoError(t, svc.Stream(context.Background(), &models.AnswerRequest{Query: "q", UserID: "u1"}, c.emit))

	require.Len(t, c.frames, 2)
	assert.Equal(t, NoAnswer, c.frames[0].Token)
	assert.True(t, c.frames[1].Complete)
	assert.NotEmpty(t, c.frames[0].RequestID)
	assert.Empty(t, gen.calls)
}

func TestStreamFlushesWithheldTextAtEnd(t *testing.T) {
	gen := &scriptedGenerator{script: func(int) []llm.Token { return tokens("a ", "<BEGIN") }}
	svc, _ := newService(&stubSearcher{hits: []models.Hit{hit()}}, gen)

	c := &collector{}
	require.NoError(t, svc.Stream(context.Background(), &models.AnswerRequest{RequestID: "r2", Query: "q", UserID: "u1"}, c.emit))
	assert.Equal(t, "a <BEGIN", c.text())
	assert.Empty(t, c.sources())
}

func TestStreamGeneratorError(t *testing.T) {
	gen := &scriptedGenerator{script: func(int) []llm.Token {
		return []llm.Token{{Text: "partial <BEGIN_SOURCES>"}, {Err: errors.New("model crashed")}}
	}}
	svc, parser := newService(&stubSearcher{hits: []models.Hit{hit()}}, gen)

	c := &collector{}
	err := svc.Stream(context.Background(), &models.AnswerRequest{RequestID: "r3", Query: "q", UserID: "u1"}, c.emit)
	require.ErrorContains(t, err, "model crashed")

	last := c.frames[len(c.frames)-1]
	assert.True(t, last.Complete)
	assert.Equal(t, "model crashed", last.Error)
	assert.Zero(t, parser.Len())
}

func TestStreamStopsWhenClientGoes(t *testing.T) {
	gen := &scriptedGenerator{script: func(int) []llm.Token { return tokens("one ", "two ", "three") }}
	svc, parser := newService(&stubSearcher{hits: []models.Hit{hit()}}, gen)

	sent := 0
	err := svc.Stream(context.Background(), &models.AnswerRequest{RequestID: "r4", Query: "q", UserID: "u1"}, func(Frame) error {
		sent++
		if sent == 2 {
			return errors.New("broken pipe")
		}
		return nil
	})
	require.ErrorIs(t, err, ErrClientGone)
	assert.Equal(t, 2, sent)
	assert.Zero(t, parser.Len())
}

func TestStreamRewritesQueryFromHistory(t *testing.T) {
	searcher := &stubSearcher{hits: []models.Hit{hit()}}
	gen := &scriptedGenerator{script: func(call int) []llm.Token {
		if call == 1 {
			return tokens(" refund policy", " for laptops ")
		}
		return tokens("Thirty days.")
	}}
	svc, _ := newService(searcher, gen)

	req := &models.AnswerRequest{
		Query:  "and for laptops?",
		UserID: "u1",
		Context: []models.ChatTurn{
			{Role: "user", Message: "what is the refund policy?"},
			{Role: "agent", Message: "Fourteen days for phones."},
		},
	}
	c := &collector{}
	require.NoError(t, svc.Stream(context.Background(), req, c.emit))

	assert.Equal(t, []string{"refund policy for laptops"}, searcher.queries)
	assert.Equal(t, "Thirty days.", c.text())

	require.Len(t, gen.calls, 2)
	answerPrompt := gen.calls[1]
	assert.Equal(t, llm.RoleUser, answerPrompt[1].Role)
	assert.Equal(t, llm.RoleAssistant, answerPrompt[2].Role)
	assert.Equal(t, "and for laptops?", answerPrompt[3].Content)
}

func TestStreamValidation(t *testing.T) {
	svc, _ := newService(&stubSearcher{}, &scriptedGenerator{script: func(int) []llm.Token { return nil }})

	err := svc.Stream(context.Background(), &models.AnswerRequest{UserID: "u1"}, (&collector{}).emit)
	assert.ErrorIs(t, err, validator.ErrInvalid)

	err = svc.Stream(context.Background(), &models.AnswerRequest{Query: "q", UserID: "u1", Context: []models.ChatTurn{{Role: "bot"}}}, (&collector{}).emit)
	assert.ErrorIs(t, err, validator.ErrInvalid)
}
