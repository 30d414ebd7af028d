package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/vectordocs/pkg/llm"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{Endpoint: srv.URL, EmbedModel: "embed", ChatModel: "chat", Timeout: 5 * time.Second}, logger.NewNopLogger())
}

func TestEmbed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed", req.Model)

		out := embedResponse{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	vecs, err := c.Embed(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)
}

func TestEmbedErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}},
		{"ollama error", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"error":"boom"}`))
		}},
		{"count mismatch", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
		}},
		{"bad json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.Embed(context.Background(), []string{"a", "b"})
			assert.Error(t, err)
		})
	}
}

func collect(ch <-chan llm.Token) ([]string, error) {
	var out []string
	for tok := range ch {
		if tok.Err != nil {
			return out, tok.Err
		}
		out = append(out, tok.Text)
	}
	return out, nil
}

func TestGenerateStreamingAnswer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)

		for _, part := range []string{"Hel", "lo", ""} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"ignored"},"done":false}`)
	})

	ch, err := c.GenerateStreamingAnswer(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)

	parts, err := collect(ch)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, parts)
}

func TestGenerateStreamingAnswerReportsStreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial"},"done":false}`)
		fmt.Fprintln(w, `{"error":"out of memory"}`)
	})

	ch, err := c.GenerateStreamingAnswer(context.Background(), nil)
	require.NoError(t, err)

	parts, err := collect(ch)
	assert.Equal(t, []string{"partial"}, parts)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "out of memory"))
}

func TestGenerateStreamingAnswerRejectsBadStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.GenerateStreamingAnswer(context.Background(), nil)
	assert.Error(t, err)
}
