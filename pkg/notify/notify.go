// Package notify delivers cycle outcomes: to the log, to a chat webhook, and
// into the alert store. Multi fans a message out to several of them and Dedup
// keeps a repeating alert from flooding the webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jguan/retrainer/pkg/alert"
	"github.com/jguan/retrainer/pkg/infra/logger"
	"github.com/jguan/retrainer/pkg/infra/ratelimit"
	"github.com/jguan/retrainer/pkg/workflow"
)

// isDeploySummary reports whether the message was sent by the deploy stage
// rather than the alert stage.
func isDeploySummary(ctx context.Context) bool {
	return logger.GetStage(ctx) == string(workflow.StageDeploy)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = logger.Default()
	}
	return &LogNotifier{logger: l}
}

func (n *LogNotifier) Notify(ctx context.Context, message string) error {
	log := logger.Enrich(ctx, n.logger)
	if isDeploySummary(ctx) {
		log.Info("notification", "message", message)
	} else {
		log.Warn("alert", "message", message)
	}
	return nil
}

// WebhookNotifier posts {"text": message} to a Slack-compatible webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (n *WebhookNotifier) Notify(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// AlertNotifier records each notification as an alert. Deploy summaries are
// informational and resolved immediately; everything else is a warning.
type AlertNotifier struct {
	manager *alert.Manager
}

func NewAlertNotifier(m *alert.Manager) *AlertNotifier {
	return &AlertNotifier{manager: m}
}

func (n *AlertNotifier) Notify(ctx context.Context, message string) error {
	cycleID := logger.GetCycleID(ctx)
	if isDeploySummary(ctx) {
		a, err := n.manager.Raise(ctx, cycleID, alert.SeverityInfo, message)
		if err != nil {
			return err
		}
		_, err = n.manager.Resolve(ctx, a.ID)
		return err
	}
	_, err := n.manager.Raise(ctx, cycleID, alert.SeverityWarning, message)
	return err
}

// Multi delivers to every notifier and joins their errors.
type Multi []workflow.Notifier

func (m Multi) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dedup drops an alert that repeats one already delivered within the repeat
// interval. Messages are compared without their "cycle <id>: " prefix, so the
// same rejection on unchanged data is sent once per interval. Deploy
// summaries always pass.
type Dedup struct {
	next    workflow.Notifier
	limiter ratelimit.Limiter
	logger  *slog.Logger
}

// NewDedup wraps next. A non-positive interval returns next unchanged.
func NewDedup(next workflow.Notifier, interval time.Duration, l *slog.Logger) workflow.Notifier {
	if interval <= 0 {
		return next
	}
	return NewDedupWithLimiter(next, ratelimit.Every(1, interval), l)
}

func NewDedupWithLimiter(next workflow.Notifier, limiter ratelimit.Limiter, l *slog.Logger) *Dedup {
	if l == nil {
		l = logger.Default()
	}
	return &Dedup{next: next, limiter: limiter, logger: l}
}

func (d *Dedup) Notify(ctx context.Context, message string) error {
	if isDeploySummary(ctx) {
		return d.next.Notify(ctx, message)
	}

	key := strings.TrimPrefix(message, "cycle "+logger.GetCycleID(ctx)+": ")
	allowed, err := d.limiter.Allow(key)
	if err != nil {
		return d.next.Notify(ctx, message)
	}
	if !allowed {
		logger.Enrich(ctx, d.logger).Info("duplicate alert suppressed", "message", message)
		return nil
	}

	if err := d.next.Notify(ctx, message); err != nil {
		// Let the next cycle retry a delivery that failed.
		d.limiter.Reset(key)
		return err
	}
	return nil
}

var (
	_ workflow.Notifier = (*Dedup)(nil)
	_ workflow.Notifier = (*LogNotifier)(nil)
	_ workflow.Notifier = (*WebhookNotifier)(nil)
	_ workflow.Notifier = (*AlertNotifier)(nil)
	_ workflow.Notifier = Multi(nil)
)
