// Package policy holds the rule-based collaborators: a metric threshold
// comparator and a data assessor that checks what landed in storage.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jguan/retrainer/pkg/workflow"
)

const DefaultMetric = "accuracy"

var ErrMissingMetric = errors.New("candidate is missing the compared metric")

// ThresholdComparator approves a candidate whose metric beats production by
// at least MinImprovement. Metrics whose name suggests a loss or an error
// are treated as lower-is-better.
type ThresholdComparator struct {
	Metric         string
	MinImprovement float64
}

func NewThresholdComparator(metric string, minImprovement float64) *ThresholdComparator {
	if metric == "" {
		metric = DefaultMetric
	}
	return &ThresholdComparator{Metric: metric, MinImprovement: minImprovement}
}

func (c *ThresholdComparator) Compare(_ context.Context, candidate, production workflow.Metrics) (workflow.Decision, error) {
	cand, ok := candidate[c.Metric]
	if !ok {
		return workflow.DecisionUndecided, fmt.Errorf("%w %q (have %s)", ErrMissingMetric, c.Metric, candidate.String())
	}

	prod, ok := production[c.Metric]
	if !ok {
		// Nothing deployed yet, or the baseline predates this metric.
		return workflow.DecisionApprove, nil
	}

	var better bool
	if LowerIsBetter(c.Metric) {
		better = cand <= prod-c.MinImprovement
	} else {
		better = cand >= prod+c.MinImprovement
	}
	if better {
		return workflow.DecisionApprove, nil
	}
	return workflow.DecisionReject, nil
}

func LowerIsBetter(metric string) bool {
	m := strings.ToLower(metric)
	for _, s := range []string{"loss", "error", "mse", "mae", "rmse", "perplexity"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

var _ workflow.Comparator = (*ThresholdComparator)(nil)
