// Package llm provides LLM client abstractions for the reviewers in pkg/agent.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LLMClient abstracts communication with different LLM providers.
type LLMClient interface {
	// Chat sends a conversation and returns the model's reply.
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "ollama").
	Name() string
	// ModelName returns the specific model identifier being used.
	ModelName() string
}

// Message represents a single turn in a conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

func SystemMessage(content string) Message { return Message{Role: "system", Content: content} }
func UserMessage(content string) Message   { return Message{Role: "user", Content: content} }

// ChatOptions holds optional parameters for a Chat call. A nil Temperature
// leaves the provider default.
type ChatOptions struct {
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Usage holds token consumption data from a Chat call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse holds the LLM's reply to a Chat call.
type ChatResponse struct {
	Message Message `json:"message"`
	Usage   Usage   `json:"usage"`
}

// Config selects and configures a provider.
type Config struct {
	Provider    string // "openai" (any OpenAI-compatible endpoint) or "ollama"
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// New builds the client named by cfg.Provider.
func New(cfg Config) (LLMClient, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai", "gemini":
		return NewOpenAIClient(cfg.Model, cfg.APIKey, cfg.BaseURL, cfg.Timeout), nil
	case "ollama":
		return NewOllamaClient(cfg.Model, cfg.BaseURL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
