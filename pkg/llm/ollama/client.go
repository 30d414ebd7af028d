// Package ollama talks to an Ollama server for embeddings and chat.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/feichai0017/vectordocs/pkg/llm"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

type Config struct {
	Endpoint   string
	EmbedModel string
	ChatModel  string
	// Timeout bounds embedding calls. Streams are bounded by their context.
	Timeout time.Duration
}

type Client struct {
	config     Config
	httpClient *http.Client
	logger     logger.Logger
}

var (
	_ llm.Embedder  = (*Client)(nil)
	_ llm.Generator = (*Client)(nil)
)

func NewClient(cfg Config, log logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{},
		logger:     log,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed calls /api/embed with the whole batch.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.post(ctx, "/api/embed", embedRequest{Model: c.config.EmbedModel, Input: texts})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", result.Error)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	c.logger.Debug("Embedded batch", logger.Int("size", len(texts)), logger.String("model", c.config.EmbedModel))
	return result.Embeddings, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatChunk struct {
	Message llm.Message `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// GenerateStreamingAnswer calls /api/chat in streaming mode and forwards
// each content fragment on the returned channel.
func (c *Client) GenerateStreamingAnswer(ctx context.Context, messages []llm.Message) (<-chan llm.Token, error) {
	resp, err := c.post(ctx, "/api/chat", chatRequest{Model: c.config.ChatModel, Messages: messages, Stream: true})
	if err != nil {
		return nil, err
	}

	tokens := make(chan llm.Token)
	go func() {
		defer close(tokens)
		defer resp.Body.Close()

		send := func(tok llm.Token) bool {
			select {
			case tokens <- tok:
				return true
			case <-ctx.Done():
				return false
			}
		}

		dec := json.NewDecoder(resp.Body)
		for {
			var chunk chatChunk
			if err := dec.Decode(&chunk); err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				send(llm.Token{Err: fmt.Errorf("failed to decode stream: %w", err)})
				return
			}
			if chunk.Error != "" {
				send(llm.Token{Err: fmt.Errorf("ollama error: %s", chunk.Error)})
				return
			}
			if chunk.Message.Content != "" && !send(llm.Token{Text: chunk.Message.Content}) {
				return
			}
			if chunk.Done {
				return
			}
		}
	}()
	return tokens, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	reqData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+path, bytes.NewReader(reqData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
