// Package agent implements the LLM-backed reviewers of a retraining cycle.
// A reviewer sends a short, fixed prompt and parses a one-word verdict; it
// never calls tools and keeps no conversation state between cycles.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	agentllm "github.com/jguan/retrainer/pkg/agent/llm"
	"github.com/jguan/retrainer/pkg/infra/logger"
)

// Options holds the sampling settings shared by all reviewers.
type Options struct {
	MaxTokens   int
	Temperature float64
}

type reviewer struct {
	llm    agentllm.LLMClient
	opts   Options
	logger *slog.Logger
}

func newReviewer(llm agentllm.LLMClient, opts Options, l *slog.Logger) reviewer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if l == nil {
		l = logger.Default()
	}
	return reviewer{llm: llm, opts: opts, logger: l}
}

// ask sends one system+user exchange and returns the trimmed reply.
func (r reviewer) ask(ctx context.Context, system, user string) (string, error) {
	if r.llm == nil {
		return "", fmt.Errorf("LLM client is not configured")
	}

	temp := r.opts.Temperature
	resp, err := r.llm.Chat(ctx, []agentllm.Message{
		agentllm.SystemMessage(system),
		agentllm.UserMessage(user),
	}, agentllm.ChatOptions{MaxTokens: r.opts.MaxTokens, Temperature: &temp})
	if err != nil {
		return "", fmt.Errorf("LLM error: %w", err)
	}

	reply := strings.TrimSpace(resp.Message.Content)
	logger.Enrich(ctx, r.logger).Debug("llm reply",
		"provider", r.llm.Name(),
		"model", r.llm.ModelName(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"reply", firstLine(reply),
	)
	return reply, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
