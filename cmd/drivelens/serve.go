package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drivelens/drivelens/internal/auth"
	"github.com/drivelens/drivelens/internal/clientinfo"
	"github.com/drivelens/drivelens/internal/config"
	"github.com/drivelens/drivelens/internal/history"
	"github.com/drivelens/drivelens/internal/intake"
	"github.com/drivelens/drivelens/internal/notify"
	"github.com/drivelens/drivelens/internal/server"
	"github.com/drivelens/drivelens/internal/slack"
	"github.com/drivelens/drivelens/internal/storage"
	"github.com/drivelens/drivelens/internal/webhook"
	"github.com/drivelens/drivelens/web"
)

const (
	previewURLExpiry = 2 * time.Hour
	sweepInterval    = time.Minute
	shutdownTimeout  = 10 * time.Second
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(a.cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	objects, media, err := newPreviewStorage(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := history.Open(ctx, cfg.HistoryDSN)
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	managerCfg := intake.Config{
		Analyzer: newAnalyzer(cfg),
		Previews: intake.NewObjectPreviews(objects, previewURLExpiry),
		IdleTTL:  cfg.SessionIdleTTL,
	}
	var pinger server.Pinger
	if store != nil {
		defer store.Close()
		managerCfg.Recorder = store
		pinger = store
		slog.Info("analysis history enabled")
	}
	if n := newNotifier(cfg); n.Len() > 0 {
		managerCfg.Notifier = n
	}

	origins, err := clientinfo.New(cfg.GeoIPDBPath)
	if err != nil {
		return fmt.Errorf("client info: %w", err)
	}
	defer origins.Close()

	secret := cfg.SessionSecret
	if secret == "" {
		if secret, err = auth.GenerateSecret(); err != nil {
			return fmt.Errorf("session secret: %w", err)
		}
		slog.Warn("SESSION_SECRET not set, using a random secret; sessions will not survive a restart")
	}

	sessions := intake.NewManager(managerCfg)

	srv, err := server.New(server.Config{
		Sessions:        sessions,
		Auth:            auth.NewHandler(secret),
		Origins:         origins,
		Pinger:          pinger,
		Media:           media,
		WebFS:           web.Site(),
		BaseURL:         cfg.BaseURL,
		StorageEndpoint: cfg.StorageEndpoint(),
		FrameAncestors:  cfg.FrameAncestors,
		MaxUploadBytes:  cfg.MaxUploadBytes,
	})
	if err != nil {
		return err
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	sessions.StartSweeper(bgCtx, sweepInterval)
	srv.StartBackground(bgCtx)

	// Uploads can be large and event streams stay open, so there is no
	// overall write deadline.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()
	httpServer.RegisterOnShutdown(func() {
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			slog.Warn("intake shutdown incomplete", "error", err)
		}
	})

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("drivelens listening", "port", cfg.Port, "storage", cfg.StorageBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-shutdownCh:
	}
	slog.Info("shutting down...")

	ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCancel()
	}()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("shutdown complete")
	return nil
}

func newNotifier(cfg config.Config) *notify.MultiNotifier {
	var notifiers []intake.Notifier
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, webhook.New(cfg.WebhookURL, cfg.WebhookSecret))
		slog.Info("analysis webhook enabled", "url", cfg.WebhookURL)
	}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, slack.New(cfg.SlackWebhookURL))
		slog.Info("slack notifications enabled")
	}
	return notify.NewMultiNotifier(notifiers...)
}

// newPreviewStorage returns the object store for previews and, for the local
// backend, the media store the server serves them from.
func newPreviewStorage(ctx context.Context, cfg config.Config) (intake.ObjectStorage, server.MediaStore, error) {
	if cfg.StorageBackend == config.StorageS3 {
		store, err := storage.NewS3(ctx, storage.S3Config{
			Endpoint:       cfg.S3Endpoint,
			PublicEndpoint: cfg.S3PublicEndpoint,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			Region:         cfg.S3Region,
			MaxUploadBytes: cfg.MaxUploadBytes,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("storage initialization failed: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, nil, fmt.Errorf("storage bucket check failed: %w", err)
		}
		if err := store.SetCORS(ctx, []string{cfg.BaseURL}); err != nil {
			slog.Warn("storage CORS configuration failed", "error", err)
		}
		slog.Info("storage bucket ready", "bucket", cfg.S3Bucket)
		return store, nil, nil
	}

	local, err := storage.NewLocal(cfg.UploadDir, "/media", cfg.MaxUploadBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("local storage: %w", err)
	}
	slog.Info("local preview storage ready", "dir", cfg.UploadDir)
	return local, local, nil
}
