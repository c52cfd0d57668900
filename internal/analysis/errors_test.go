package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("send request: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"status", &StatusError{StatusCode: 502, Body: "upstream at http://10.0.0.5 down"}, "analysis service returned status 502"},
		{"invalid outcome", fmt.Errorf("%w: score out of range", ErrInvalidOutcome), "invalid outcome"},
		{"other", errors.New("open video: object missing"), "analysis error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureReason(tt.err); got != tt.want {
				t.Errorf("FailureReason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFailureReason_HidesServiceResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"gpu node gpu-7.internal out of memory"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	_, err := client.Analyze(context.Background(), testVideo("x"))

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("error = %v, want StatusError 500", err)
	}
	reason := FailureReason(err)
	if reason != "analysis service returned status 500" {
		t.Errorf("reason = %q", reason)
	}
	if strings.Contains(reason, "gpu-7") || strings.Contains(reason, server.URL) {
		t.Errorf("reason leaks service details: %q", reason)
	}
}

func TestFailureReason_ClientTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, "", 50*time.Millisecond)
	_, err := client.Analyze(context.Background(), testVideo("x"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if got := FailureReason(err); got != "timeout" {
		t.Errorf("reason = %q, want timeout (err: %v)", got, err)
	}
}

func TestFailureReason_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(url, "", time.Second)
	_, err := client.Analyze(context.Background(), testVideo("x"))
	if got := FailureReason(err); got != "analysis service unreachable" {
		t.Errorf("reason = %q, want analysis service unreachable (err: %v)", got, err)
	}
}
