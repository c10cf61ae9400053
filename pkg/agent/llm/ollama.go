package llm

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

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3.2"
)

// OllamaClient talks to a local Ollama server through /api/chat. It is the
// offline alternative to the hosted reviewer model.
type OllamaClient struct {
	model   string
	baseURL string
	http    *http.Client
}

func NewOllamaClient(model, baseURL string, timeout time.Duration) *OllamaClient {
	if model == "" {
		model = defaultOllamaModel
	}
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaClient{
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *OllamaClient) Name() string      { return "ollama" }
func (c *OllamaClient) ModelName() string { return c.model }

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         Message `json:"message"`
	Error           string  `json:"error,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

func (c *OllamaClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	req := ollamaChatRequest{Model: c.model, Messages: messages}
	if opts.Temperature != nil || opts.MaxTokens > 0 {
		req.Options = &ollamaOptions{Temperature: opts.Temperature, NumPredict: opts.MaxTokens}
	}

	var out ollamaChatResponse
	if err := c.post(ctx, "/api/chat", req, &out); err != nil {
		return nil, err
	}

	return &ChatResponse{
		Message: Message{Role: "assistant", Content: out.Message.Content},
		Usage:   Usage{InputTokens: out.PromptEvalCount, OutputTokens: out.EvalCount},
	}, nil
}

// post sends payload as JSON and decodes the reply into out. Ollama reports
// failures as {"error": "..."}, usually with a non-2xx status.
func (c *OllamaClient) post(ctx context.Context, path string, payload any, out *ollamaChatResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	decodeErr := json.Unmarshal(data, out)
	switch {
	case decodeErr == nil && out.Error != "":
		return fmt.Errorf("ollama error: %s", out.Error)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("ollama status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	case decodeErr != nil:
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	return nil
}

var _ LLMClient = (*OllamaClient)(nil)
