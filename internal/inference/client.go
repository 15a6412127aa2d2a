// Package inference talks to an OpenAI-compatible endpoint for
// embeddings and chat completions.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meetscribe/rtms-ingest/internal/config"
	"github.com/meetscribe/rtms-ingest/internal/logger"
)

// Client is a thin HTTP client for the inference backend.
type Client struct {
	httpClient      *http.Client
	logger          *logger.Logger
	baseURL         string
	apiKey          string
	completionModel string
	embeddingModel  string
}

// NewClient creates a client from the application config.
func NewClient(log *logger.Logger) *Client {
	timeout := time.Duration(config.AppConfig.InferenceTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient:      &http.Client{Timeout: timeout},
		logger:          log.WithComponent("inference"),
		baseURL:         config.AppConfig.InferenceBaseURL,
		apiKey:          config.AppConfig.InferenceAPIKey,
		completionModel: config.AppConfig.CompletionModel,
		embeddingModel:  config.AppConfig.EmbeddingModel,
	}
}

// NewClientWithOptions creates a client with explicit settings. Used by
// tests against httptest servers.
func NewClientWithOptions(baseURL, apiKey, completionModel, embeddingModel string, log *logger.Logger) *Client {
	return &Client{
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		logger:          log.WithComponent("inference"),
		baseURL:         baseURL,
		apiKey:          apiKey,
		completionModel: completionModel,
		embeddingModel:  embeddingModel,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *apiErrorBody `json:"error,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiErrorBody `json:"error,omitempty"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// CreateEmbedding returns the embedding vector for one input text.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float64, error) {
	payload, err := json.Marshal(embeddingRequest{
		Model: c.embeddingModel,
		Input: []string{input},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding payload: %w", err)
	}

	body, err := c.post(ctx, "/embeddings", payload)
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("embedding request failed: %s", resp.Error.Message)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response carried no data")
	}

	return resp.Data[0].Embedding, nil
}

// CreateChatCompletion runs one system+user exchange and returns the
// assistant reply.
func (c *Client) CreateChatCompletion(ctx context.Context, system, user string) (string, error) {
	messages := []chatMessage{}
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	payload, err := json.Marshal(completionRequest{
		Model:       c.completionModel,
		Messages:    messages,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build completion payload: %w", err)
	}

	body, err := c.post(ctx, "/chat/completions", payload)
	if err != nil {
		return "", err
	}

	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse completion response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("completion request failed: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion response carried no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference backend returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
