// Package citation strips the sources block an LLM appends to its answer
// while the answer is still streaming.
//
// The model is asked to finish with
//
//	<BEGIN_SOURCES>
//	<file uuid>/<file name>/<page>
//	<END_SOURCES>
//
// Tokens arrive in arbitrary fragments, so the tags may be split across
// any number of calls. Text that could still turn into the begin tag is
// withheld until it either completes the tag or proves not to.
package citation

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	BeginTag = "<BEGIN_SOURCES>"
	EndTag   = "<END_SOURCES>"
)

// Source is one parsed citation line.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Page string `json:"page"`
}

type requestState struct {
	buffer       string
	sources      []Source
	sourcesReady bool
	lastSeen     time.Time
}

// Parser keeps per-request state. All methods are safe for concurrent use
// across request ids; tokens of a single request must arrive in order.
type Parser struct {
	mu       sync.Mutex
	requests map[string]*requestState
	ttl      time.Duration
	now      func() time.Time
}

// NewParser creates a parser whose idle request state is dropped after ttl.
// A ttl of zero keeps state until Complete.
func NewParser(ttl time.Duration) *Parser {
	return &Parser{
		requests: make(map[string]*requestState),
		ttl:      ttl,
		now:      time.Now,
	}
}

// ProcessToken consumes the next token of requestID and returns the text
// that is safe to show to the user.
func (p *Parser) ProcessToken(requestID, token string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state(requestID)
	st.lastSeen = p.now()

	if st.buffer == "" {
		start := strings.IndexByte(token, '<')
		if start < 0 {
			return token
		}
		return token[:start] + st.resolve(token[start:])
	}
	return st.resolve(st.buffer + token)
}

// resolve decides what to do with text r, which starts at a '<' that may
// open the begin tag.
func (st *requestState) resolve(r string) string {
	if len(r) < len(BeginTag) && strings.HasPrefix(BeginTag, r) {
		st.buffer = r
		return ""
	}

	idx := strings.Index(r, BeginTag)
	if idx < 0 {
		// False alarm. A later '<' may still open the tag.
		st.buffer = ""
		next := strings.IndexByte(r[1:], '<')
		if next < 0 {
			return r
		}
		next++
		return r[:next] + st.resolve(r[next:])
	}

	before := r[:idx]
	rest := r[idx:]
	end := strings.Index(rest, EndTag)
	if end < 0 {
		st.buffer = rest
		return before
	}

	st.sources = append(st.sources, ParseSources(rest[len(BeginTag):end])...)
	st.sourcesReady = true
	st.buffer = ""
	return before + rest[end+len(EndTag):]
}

// ParseSources parses the lines between the tags. Lines that do not split
// into exactly id/name/page are dropped.
func ParseSources(payload string) []Source {
	var sources []Source
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "/")
		if len(parts) != 3 {
			continue
		}
		sources = append(sources, Source{
			ID:   strings.TrimSpace(parts[0]),
			Name: strings.TrimSpace(parts[1]),
			Page: strings.TrimSpace(parts[2]),
		})
	}
	return sources
}

// IsSourcesReady reports whether a complete sources block has been seen.
func (p *Parser) IsSourcesReady(requestID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.requests[requestID]
	return ok && st.sourcesReady
}

// GetSources returns a copy of the parsed sources, nil before they are ready.
func (p *Parser) GetSources(requestID string) []Source {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.requests[requestID]
	if !ok || !st.sourcesReady {
		return nil
	}
	out := make([]Source, len(st.sources))
	copy(out, st.sources)
	return out
}

// Complete drops the state of requestID and returns text that was still
// withheld. An unterminated sources block is discarded.
func (p *Parser) Complete(requestID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.requests[requestID]
	if !ok {
		return ""
	}
	delete(p.requests, requestID)

	if strings.HasPrefix(st.buffer, BeginTag) {
		return ""
	}
	return st.buffer
}

// Len returns the number of requests with live state.
func (p *Parser) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Sweep drops requests idle for longer than the ttl and returns how many
// were removed.
func (p *Parser) Sweep() int {
	if p.ttl <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-p.ttl)
	removed := 0
	for id, st := range p.requests {
		if st.lastSeen.Before(cutoff) {
			delete(p.requests, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (p *Parser) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

func (p *Parser) state(requestID string) *requestState {
	st, ok := p.requests[requestID]
	if !ok {
		st = &requestState{}
		p.requests[requestID] = st
	}
	return st
}
