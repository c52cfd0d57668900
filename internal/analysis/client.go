package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	DefaultTimeout      = 5 * time.Minute
	maxErrorBodyBytes   = 1024
	maxOutcomeBodyBytes = 1 << 20
	analysesPath        = "/v1/analyses"
	videoFormField      = "video"
)

// Client talks to a remote driving-analysis service. The video is streamed as
// a multipart upload and the service answers with an Outcome as JSON.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

func (c *Client) Analyze(ctx context.Context, video Video) (*Outcome, error) {
	src, err := video.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer src.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeVideoPart(mw, video, src))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analysesPath, pr)
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var outcome Outcome
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxOutcomeBodyBytes)).Decode(&outcome); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidOutcome, err)
	}

	if outcome.Analysis.Timestamp.IsZero() {
		outcome.Analysis.Timestamp = c.now().UTC()
	}

	if err := outcome.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOutcome, err)
	}

	return &outcome, nil
}

func writeVideoPart(mw *multipart.Writer, video Video, src io.Reader) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, videoFormField, escapeQuotes(video.Filename)))
	contentType := video.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create video part: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy video: %w", err)
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
