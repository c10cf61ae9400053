package agent

import (
	"context"
	"fmt"
	"log/slog"

	agentllm "github.com/jguan/retrainer/pkg/agent/llm"
	"github.com/jguan/retrainer/pkg/workflow"
)

const metricsSystemPrompt = `You decide whether a newly trained candidate model should replace the model in production.
You are given the evaluation metrics of both. Higher is better unless the metric name says loss or error.
If there is no production model, approve a candidate with sensible metrics.
Answer with exactly one word: APPROVE or REJECT.`

// MetricsReviewer asks an LLM to compare candidate and production metrics.
// It implements workflow.Comparator. A reply that is neither APPROVE nor
// REJECT comes back as UNDECIDED.
type MetricsReviewer struct {
	reviewer
}

func NewMetricsReviewer(llm agentllm.LLMClient, opts Options, l *slog.Logger) *MetricsReviewer {
	return &MetricsReviewer{reviewer: newReviewer(llm, opts, l)}
}

func (m *MetricsReviewer) Compare(ctx context.Context, candidate, production workflow.Metrics) (workflow.Decision, error) {
	reply, err := m.ask(ctx, metricsSystemPrompt, fmt.Sprintf(
		"Candidate metrics: %s\nProduction metrics: %s\n", candidate.String(), production.String()))
	if err != nil {
		return workflow.DecisionUndecided, err
	}
	return workflow.ParseDecision(firstLine(reply)), nil
}

var _ workflow.Comparator = (*MetricsReviewer)(nil)
