package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/drivelens/drivelens/internal/analysis"
	"github.com/drivelens/drivelens/internal/history"
	"github.com/drivelens/drivelens/internal/validate"
)

var errHistoryDisabled = errors.New("HISTORY_DSN is not set")

// videoTypes covers extensions the system MIME table may not know.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the analysis history schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(cmd.Context(), a.cfg.HistoryDSN)
			if err != nil {
				return err
			}
			if store == nil {
				return errHistoryDisabled
			}
			defer store.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "history schema is up to date")
			return nil
		},
	}
}

func newAnalyzeCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze a local driving video and print the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			video, err := localVideo(args[0])
			if err != nil {
				return err
			}
			outcome, err := newAnalyzer(a.cfg).Analyze(cmd.Context(), video)
			if err != nil {
				return fmt.Errorf("analyze %s: %w", video.Filename, err)
			}
			return writeOutput(cmd.OutOrStdout(), output, outcome)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format (yaml, json)")
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	var (
		output string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(cmd.Context(), a.cfg.HistoryDSN)
			if err != nil {
				return err
			}
			if store == nil {
				return errHistoryDisabled
			}
			defer store.Close()

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if records == nil {
				records = []history.Record{}
			}
			return writeOutput(cmd.OutOrStdout(), output, records)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultLimit, "number of analyses to list")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format (yaml, json)")
	return cmd
}

// localVideo describes a file on disk the way an upload would be described.
func localVideo(path string) (analysis.Video, error) {
	info, err := os.Stat(path)
	if err != nil {
		return analysis.Video{}, err
	}
	if info.IsDir() {
		return analysis.Video{}, fmt.Errorf("%s is a directory", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	contentType, ok := videoTypes[ext]
	if !ok {
		contentType = mime.TypeByExtension(ext)
	}
	if !validate.IsVideoContentType(contentType) {
		return analysis.Video{}, fmt.Errorf("%s does not look like a video (type %q)", path, contentType)
	}

	return analysis.Video{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Open: func(context.Context) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
