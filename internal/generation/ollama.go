package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama generates through a local Ollama instance's chat endpoint.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllama creates a client targeting baseURL. A zero timeout leaves request
// deadlines to the caller's context.
func NewOllama(baseURL string, timeout time.Duration) *Ollama {
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaChatRequest is the JSON body for POST /api/chat.
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

// Generate sends the prompt as a single user message.
func (c *Ollama) Generate(ctx context.Context, r Request) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    r.Model,
		Messages: []ollamaMessage{{Role: "user", Content: r.Prompt}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: chat request: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", statusError("chat", resp.StatusCode, respBody)
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if result.Error != "" {
		return "", statusError("chat", http.StatusOK, []byte(result.Error))
	}
	return result.Message.Content, nil
}

// ollamaTags mirrors the JSON returned by GET /api/tags.
type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// IsReady reports whether Ollama answers and has model available locally.
func (c *Ollama) IsReady(ctx context.Context, model string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		// Ollama may return "llama3.1:latest"; match without the tag suffix.
		if m.Name == model || strings.HasPrefix(m.Name, model+":") {
			return true
		}
	}
	return false
}

// WarmUp sends a trivial prompt so the model is resident before the first
// real query.
func (c *Ollama) WarmUp(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := c.Generate(ctx, Request{Prompt: "ping", Model: model})
	return err
}

// ollamaEmbedRequest is the JSON body for POST /api/embed.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding vector for text using model.
func (c *Ollama) Embed(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embed request: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError("embed", resp.StatusCode, respBody)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("embed: empty embeddings array")
	}
	return result.Embeddings[0], nil
}

// statusError maps a non-success backend reply to an error. Busy, loading
// and rate-limited replies are ErrUpstreamUnavailable.
func statusError(op string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	switch {
	case status == http.StatusServiceUnavailable,
		status == http.StatusTooManyRequests,
		status == http.StatusBadGateway,
		status == http.StatusGatewayTimeout,
		strings.Contains(strings.ToLower(msg), "loading"):
		return fmt.Errorf("%w: %s: status %d: %s", ErrUpstreamUnavailable, op, status, msg)
	}
	return fmt.Errorf("%s: unexpected status %d: %s", op, status, msg)
}
