package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	agentllm "github.com/jguan/retrainer/pkg/agent/llm"
	"github.com/jguan/retrainer/pkg/workflow"
)

const (
	qualitySystemPrompt = `You review freshly uploaded training data before a model is retrained on it.
You are given the storage location and a listing of the uploaded objects.
Reject the batch if it is empty, looks truncated, mixes unrelated file types, or contains obviously corrupt or temporary files.
Answer with exactly one line: either ACCEPT, or REJECT: <short reason>.`

	maxListedObjects = 200
)

// QualityReviewer asks an LLM whether newly arrived data is fit for training.
// It implements workflow.QualityAssessor.
type QualityReviewer struct {
	reviewer
	storage workflow.StorageGateway
}

func NewQualityReviewer(llm agentllm.LLMClient, storage workflow.StorageGateway, opts Options, l *slog.Logger) *QualityReviewer {
	return &QualityReviewer{reviewer: newReviewer(llm, opts, l), storage: storage}
}

func (q *QualityReviewer) Assess(ctx context.Context, dataPath string) (string, error) {
	keys, err := q.storage.ListNewObjects(ctx, strings.TrimPrefix(dataPath, "s3://"))
	if err != nil {
		return "", fmt.Errorf("list data for review: %w", err)
	}

	reply, err := q.ask(ctx, qualitySystemPrompt, qualityPrompt(dataPath, keys))
	if err != nil {
		return "", err
	}
	return parseQualityVerdict(reply)
}

func qualityPrompt(dataPath string, keys []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Location: %s\nObjects: %d\n", dataPath, len(keys))
	for i, k := range keys {
		if i == maxListedObjects {
			fmt.Fprintf(&b, "... and %d more\n", len(keys)-maxListedObjects)
			break
		}
		b.WriteString("- ")
		b.WriteString(k)
		b.WriteByte('\n')
	}
	return b.String()
}

// parseQualityVerdict returns "" for ACCEPT and the reason for REJECT.
func parseQualityVerdict(reply string) (string, error) {
	line := firstLine(reply)
	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, "ACCEPT"):
		return "", nil
	case strings.HasPrefix(upper, "REJECT"):
		reason := strings.TrimSpace(strings.TrimLeft(line[len("REJECT"):], ": -"))
		if reason == "" {
			reason = "rejected by data review"
		}
		return reason, nil
	default:
		return "", fmt.Errorf("unrecognised data review verdict %q", line)
	}
}

var _ workflow.QualityAssessor = (*QualityReviewer)(nil)
