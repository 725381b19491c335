package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaURL is the address of a default local Ollama installation.
const DefaultOllamaURL = "http://localhost:11434"

// Ollama implements Provider for a local Ollama server (/api/chat).
// Every council member and the chairman can be served by one Ollama instance,
// so it is normally installed as the registry fallback.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
}

// OllamaOption configures an Ollama provider.
type OllamaOption func(*Ollama)

// WithOllamaBaseURL sets the server address (without the /api suffix).
func WithOllamaBaseURL(url string) OllamaOption {
	return func(o *Ollama) { o.baseURL = strings.TrimRight(url, "/") }
}

// WithOllamaHTTPClient sets a custom HTTP client.
func WithOllamaHTTPClient(c *http.Client) OllamaOption {
	return func(o *Ollama) { o.httpClient = c }
}

// NewOllama creates an Ollama provider. Local inference is slow, so the
// client timeout is generous; callers bound each query with a context.
func NewOllama(opts ...OllamaOption) *Ollama {
	o := &Ollama{
		baseURL:    DefaultOllamaURL,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Query sends the message history to /api/chat with streaming disabled.
func (o *Ollama) Query(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	payload := ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("sending request to ollama at %s: %w", o.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, &APIError{Provider: "ollama", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return Response{}, fmt.Errorf("parsing response: %w", err)
	}
	if chatResp.Error != "" {
		return Response{}, errors.New("ollama: " + chatResp.Error)
	}

	return Response{
		Model:    req.Model,
		Content:  chatResp.Message.Content,
		Provider: "ollama",
		Latency:  time.Since(start),
	}, nil
}

// ListModels returns the names of models pulled into the Ollama server.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to ollama at %s: %w", o.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "ollama", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tags ollamaTagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}
