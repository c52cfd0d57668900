package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/drivelens/drivelens/internal/analysis"
	"github.com/drivelens/drivelens/internal/intake"
)

const maxResponseBodyBytes = 1024

const (
	EventAnalysisCompleted = "analysis.completed"
	EventAnalysisFailed    = "analysis.failed"
)

// Event represents a webhook event to dispatch.
type Event struct {
	Name      string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Client dispatches webhook events to one endpoint with retries.
type Client struct {
	url         string
	secret      string
	http        *http.Client
	retryDelays []time.Duration
}

// New creates a webhook client posting to url, signed with secret.
func New(url, secret string) *Client {
	return &Client{
		url:         url,
		secret:      secret,
		http:        &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{1 * time.Second, 4 * time.Second},
	}
}

// SignPayload computes HMAC-SHA256 of the payload using the secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// NotifyAnalysis reports a finished analysis attempt.
func (c *Client) NotifyAnalysis(ctx context.Context, comp intake.Completion) error {
	return c.Dispatch(ctx, EventFromCompletion(comp))
}

// EventFromCompletion builds the payload for a finished analysis attempt.
func EventFromCompletion(comp intake.Completion) Event {
	data := map[string]any{
		"sessionId":   comp.SessionID,
		"filename":    comp.Video.Filename,
		"contentType": comp.Video.ContentType,
		"size":        comp.Video.Size,
		"durationMs":  comp.FinishedAt.Sub(comp.StartedAt).Milliseconds(),
	}
	if comp.Origin.Country != "" {
		data["country"] = comp.Origin.Country
	}

	if !comp.Succeeded() {
		data["error"] = intake.MsgAnalysisFailed
		if reason := analysis.FailureReason(comp.Err); reason != "" {
			data["reason"] = reason
		}
		return Event{Name: EventAnalysisFailed, Timestamp: comp.FinishedAt.UTC(), Data: data}
	}

	data["analysis"] = comp.Outcome.Analysis
	data["recommendations"] = comp.Outcome.Recommendations
	return Event{Name: EventAnalysisCompleted, Timestamp: comp.FinishedAt.UTC(), Data: data}
}

// Dispatch sends an event to the webhook URL with up to 3 attempts.
// Each attempt is logged.
func (c *Client) Dispatch(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	signature := SignPayload(c.secret, body)
	maxAttempts := 1 + len(c.retryDelays)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		statusCode, respBody, err := c.doPost(ctx, body, signature)
		logDelivery(event.Name, statusCode, respBody, attempt, err)

		if err == nil && statusCode != nil && *statusCode >= 200 && *statusCode < 300 {
			return nil
		}

		if err != nil {
			lastErr = err
		} else if statusCode != nil {
			lastErr = fmt.Errorf("webhook returned status %d", *statusCode)
		}

		if attempt < maxAttempts {
			select {
			case <-time.After(c.retryDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

func (c *Client) doPost(ctx context.Context, body []byte, signature string) (*int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err.Error(), err
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, int64(maxResponseBodyBytes)+1))
	respBody := string(respBytes)
	if len(respBody) > maxResponseBodyBytes {
		respBody = respBody[:maxResponseBodyBytes]
	}

	return &resp.StatusCode, respBody, nil
}

func logDelivery(event string, statusCode *int, responseBody string, attempt int, err error) {
	status := 0
	if statusCode != nil {
		status = *statusCode
	}
	if err != nil || status < 200 || status >= 300 {
		slog.Warn("webhook: delivery failed", "event", event, "attempt", attempt, "status", status, "response", responseBody)
		return
	}
	slog.Info("webhook: delivered", "event", event, "attempt", attempt, "status", status)
}
