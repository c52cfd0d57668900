// Package slack posts analysis results to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/drivelens/drivelens/internal/analysis"
	"github.com/drivelens/drivelens/internal/intake"
)

// Client sends Slack notifications via an incoming webhook.
type Client struct {
	webhookURL string
	http       *http.Client
}

func New(webhookURL string) *Client {
	return &Client{
		webhookURL: webhookURL,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

type block struct {
	Type     string `json:"type"`
	Text     *text  `json:"text,omitempty"`
	Fields   []text `json:"fields,omitempty"`
	Elements []text `json:"elements,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type payload struct {
	Text   string  `json:"text"`
	Blocks []block `json:"blocks"`
}

func (c *Client) postMessage(ctx context.Context, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	return nil
}

// NotifyAnalysis posts a summary of a finished analysis. Delivery failures are
// logged and never reported to the caller.
func (c *Client) NotifyAnalysis(ctx context.Context, comp intake.Completion) error {
	if err := c.postMessage(ctx, analysisPayload(comp)); err != nil {
		slog.Error("slack: failed to send analysis notification", "session_id", comp.SessionID, "error", err)
	}
	return nil
}

func analysisPayload(comp intake.Completion) payload {
	filename := escape(comp.Video.Filename)

	if !comp.Succeeded() {
		reason := analysis.FailureReason(comp.Err)
		if reason == "" {
			reason = "unknown error"
		}
		return payload{
			Text: "Analysis failed for " + comp.Video.Filename,
			Blocks: []block{
				{
					Type: "section",
					Text: &text{Type: "mrkdwn", Text: fmt.Sprintf(":warning: *Analysis failed*\n`%s`", filename)},
				},
				{
					Type:     "context",
					Elements: []text{{Type: "mrkdwn", Text: escape(reason)}},
				},
			},
		}
	}

	var fields []text
	for _, m := range comp.Outcome.Display() {
		fields = append(fields, text{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", m.Label, m.Value)})
	}

	m := comp.Outcome.Analysis
	details := []string{
		"Duration " + analysis.FormatDuration(m.DurationSeconds),
		pluralize(len(comp.Outcome.Recommendations), "recommendation", "recommendations"),
	}
	if comp.Origin.Country != "" {
		details = append(details, "from "+comp.Origin.Country)
	}

	return payload{
		Text: fmt.Sprintf("Drive analyzed: %s scored %d/%d", comp.Video.Filename, m.SafetyScore, analysis.MaxSafetyScore),
		Blocks: []block{
			{
				Type: "section",
				Text: &text{Type: "mrkdwn", Text: fmt.Sprintf(":oncoming_automobile: *Drive analyzed*\n`%s`", filename)},
			},
			{
				Type:   "section",
				Fields: fields,
			},
			{
				Type:     "context",
				Elements: []text{{Type: "mrkdwn", Text: strings.Join(details, " | ")}},
			},
		},
	}
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

// escape neutralises the characters Slack treats as control sequences.
func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
