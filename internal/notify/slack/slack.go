// Package slack posts surfacing notices to Slack via incoming webhooks. The
// Notifier is a priority.VisibilityEffector.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/surfacer/internal/priority"
)

const (
	maxDescriptionLen = 600
	httpTimeout       = 10 * time.Second
)

// Notifier posts surfaced and submerged items to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

var _ priority.VisibilityEffector = (*Notifier)(nil)

// New creates a new Slack notifier. If webhookURL is empty, Apply is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Apply posts a notice for a visibility change. Shown items get the full
// card; hidden items get a one-line notice.
func (n *Notifier) Apply(ctx context.Context, it *priority.Item, v priority.Visibility) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(it, v))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notice sent", "item_id", it.ID, "visibility", v)
	return nil
}

func buildMessage(it *priority.Item, v priority.Visibility) map[string]any {
	if v == priority.VisibilityHidden {
		return map[string]any{
			"blocks": []map[string]any{
				{
					"type": "context",
					"elements": []map[string]any{{
						"type": "mrkdwn",
						"text": fmt.Sprintf("%s ~%s~ (%s)", statusEmoji(it.Status), it.Title, hiddenReason(it)),
					}},
				},
			},
		}
	}
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(it),
			fieldsBlock(it),
			descriptionBlock(it),
			{"type": "divider"},
			contextBlock(it),
		},
	}
}

func headerBlock(it *priority.Item) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s", quadrantEmoji(it.Quadrant), it.Title),
		},
	}
}

func fieldsBlock(it *priority.Item) map[string]any {
	deadline := "none"
	if it.Deadline != nil {
		deadline = it.Deadline.UTC().Format("2006-01-02 15:04 UTC")
	}
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Quadrant:* %s", quadrantLabel(it.Quadrant))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Score:* %.1f", it.Scores.Total)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Urgency / importance:* %.0f / %.0f", it.Scores.Urgency, it.Scores.Importance)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Deadline:* %s", deadline)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Source:* %s", it.SourceType)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Category:* %s", it.Category)},
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func descriptionBlock(it *priority.Item) map[string]any {
	text := truncate(it.Description, maxDescriptionLen)
	if text == "" {
		text = "_No description._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(it *priority.Item) map[string]any {
	ts := it.CreatedAt
	if it.SurfacedAt != nil {
		ts = *it.SurfacedAt
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{{
			"type": "mrkdwn",
			"text": fmt.Sprintf("surfacer • %s • item %s • %s", it.UserID, it.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		}},
	}
}

func hiddenReason(it *priority.Item) string {
	if it.Status == priority.StatusEliminated && it.EliminationReason != "" {
		return "eliminated: " + it.EliminationReason
	}
	return string(it.Status)
}

func quadrantEmoji(q priority.Quadrant) string {
	switch q {
	case priority.QuadrantDoNow:
		return "\U0001f534" // red circle
	case priority.QuadrantSchedule:
		return "\U0001f7e1" // yellow circle
	case priority.QuadrantDelegate:
		return "\U0001f535" // blue circle
	default:
		return "⚪" // white circle
	}
}

func quadrantLabel(q priority.Quadrant) string {
	switch q {
	case priority.QuadrantDoNow:
		return "Do now"
	case priority.QuadrantSchedule:
		return "Schedule"
	case priority.QuadrantDelegate:
		return "Delegate"
	case priority.QuadrantEliminate:
		return "Eliminate"
	}
	return string(q)
}

func statusEmoji(s priority.Status) string {
	if s == priority.StatusEliminated {
		return "\U0001f5d1" // wastebasket
	}
	return "✅" // check mark
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
