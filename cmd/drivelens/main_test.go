package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/drivelens/drivelens/internal/analysis"
	"github.com/drivelens/drivelens/internal/config"
	"github.com/drivelens/drivelens/internal/history"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STORAGE_BACKEND", "UPLOAD_DIR", "MAX_UPLOAD_BYTES", "LOG_FORMAT", "LOG_LEVEL",
		"ANALYSIS_URL", "HISTORY_DSN", "WEBHOOK_URL",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("ANALYSIS_SIMULATED_DELAY", "0s")

	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })
}

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeVideo(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("fake video"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", slog.LevelInfo)
	logger.Info("intake: session created", "session_id", "abc")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "intake: session created" || entry["session_id"] != "abc" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNewLoggerTextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "text", slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("info line should be filtered, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn line, got %q", buf.String())
	}
}

func TestNewAnalyzerSelectsBackend(t *testing.T) {
	if _, ok := newAnalyzer(config.Config{}).(*analysis.Simulated); !ok {
		t.Error("expected simulated analyzer without ANALYSIS_URL")
	}
	cfg := config.Config{AnalysisURL: "http://analysis.test", AnalysisTimeout: time.Second}
	if _, ok := newAnalyzer(cfg).(*analysis.Client); !ok {
		t.Error("expected HTTP client analyzer with ANALYSIS_URL")
	}
}

func TestLocalVideo(t *testing.T) {
	video, err := localVideo(writeVideo(t, "Drive1.MP4"))
	if err != nil {
		t.Fatalf("local video: %v", err)
	}
	if video.Filename != "Drive1.MP4" || video.ContentType != "video/mp4" || video.Size != int64(len("fake video")) {
		t.Errorf("video = %+v", video)
	}

	rc, err := video.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rc.Close()
}

func TestLocalVideoRejectsNonVideo(t *testing.T) {
	if _, err := localVideo(writeVideo(t, "notes.txt")); err == nil {
		t.Error("expected error for text file")
	}
	if _, err := localVideo(t.TempDir()); err == nil {
		t.Error("expected error for directory")
	}
	if _, err := localVideo(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteOutput(t *testing.T) {
	value := map[string]int{"safetyScore": 87}

	var yamlBuf bytes.Buffer
	if err := writeOutput(&yamlBuf, "yaml", value); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if yamlBuf.String() != "safetyScore: 87\n" {
		t.Errorf("yaml = %q", yamlBuf.String())
	}

	var jsonBuf bytes.Buffer
	if err := writeOutput(&jsonBuf, "json", value); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(jsonBuf.String(), `"safetyScore": 87`) {
		t.Errorf("json = %q", jsonBuf.String())
	}

	if err := writeOutput(&bytes.Buffer{}, "xml", value); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestAnalyzeCommandPrintsOutcome(t *testing.T) {
	setTestEnv(t)

	stdout, _, err := runCommand(t, "analyze", writeVideo(t, "drive1.mp4"), "--output", "json")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var outcome analysis.Outcome
	if err := json.Unmarshal([]byte(stdout), &outcome); err != nil {
		t.Fatalf("decode output %q: %v", stdout, err)
	}
	if outcome.Analysis.SafetyScore != 87 || len(outcome.Recommendations) == 0 {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestAnalyzeCommandDefaultsToYAML(t *testing.T) {
	setTestEnv(t)

	stdout, _, err := runCommand(t, "analyze", writeVideo(t, "drive1.webm"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(stdout, "safetyScore: 87") {
		t.Errorf("expected YAML outcome, got %q", stdout)
	}
}

func TestAnalyzeCommandRequiresFile(t *testing.T) {
	setTestEnv(t)

	if _, _, err := runCommand(t, "analyze"); err == nil {
		t.Error("expected error without a file argument")
	}
}

func TestInvalidConfigFailsCommand(t *testing.T) {
	setTestEnv(t)
	t.Setenv("STORAGE_BACKEND", "ftp")

	if _, _, err := runCommand(t, "analyze", writeVideo(t, "drive1.mp4")); err == nil {
		t.Error("expected configuration error")
	}
}

func TestHistoryCommandListsRecords(t *testing.T) {
	setTestEnv(t)
	dbPath := filepath.Join(t.TempDir(), "history.db")
	t.Setenv("HISTORY_DSN", "sqlite://"+dbPath)

	store, err := history.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	_, err = store.Save(context.Background(), history.Record{
		SessionID:       "sess-1",
		Filename:        "drive1.mp4",
		ContentType:     "video/mp4",
		Size:            1024,
		Metrics:         analysis.Metrics{SafetyScore: 87, Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		Recommendations: []string{"Maintain a consistent speed"},
		CreatedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = store.Close()

	stdout, _, err := runCommand(t, "history", "--limit", "5", "--output", "json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	var records []history.Record
	if err := json.Unmarshal([]byte(stdout), &records); err != nil {
		t.Fatalf("decode output %q: %v", stdout, err)
	}
	if len(records) != 1 || records[0].Filename != "drive1.mp4" {
		t.Errorf("records = %+v", records)
	}
}

func TestHistoryCommandRequiresDSN(t *testing.T) {
	setTestEnv(t)

	_, _, err := runCommand(t, "history")
	if !errors.Is(err, errHistoryDisabled) {
		t.Errorf("expected errHistoryDisabled, got %v", err)
	}
}

func TestMigrateCommandCreatesSQLiteSchema(t *testing.T) {
	setTestEnv(t)
	t.Setenv("HISTORY_DSN", "sqlite://"+filepath.Join(t.TempDir(), "history.db"))

	stdout, _, err := runCommand(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(stdout, "up to date") {
		t.Errorf("unexpected output %q", stdout)
	}
}

func TestNewNotifier(t *testing.T) {
	if n := newNotifier(config.Config{}); n.Len() != 0 {
		t.Errorf("expected no notifiers, got %d", n.Len())
	}
	cfg := config.Config{WebhookURL: "https://hooks.example.com/a", SlackWebhookURL: "https://hooks.slack.com/services/x"}
	if n := newNotifier(cfg); n.Len() != 2 {
		t.Errorf("expected webhook and slack notifiers, got %d", n.Len())
	}
}

func TestNewPreviewStorageLocal(t *testing.T) {
	cfg := config.Config{StorageBackend: config.StorageLocal, UploadDir: t.TempDir(), MaxUploadBytes: 1024}

	objects, media, err := newPreviewStorage(context.Background(), cfg)
	if err != nil {
		t.Fatalf("preview storage: %v", err)
	}
	if objects == nil || media == nil {
		t.Error("local backend should provide both object and media stores")
	}
}
