package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Local keeps objects on disk under a root directory. Download URLs point at
// the server's media route, which serves files through OpenFile.
type Local struct {
	root      string
	urlPrefix string
	maxBytes  int64
}

func NewLocal(root, urlPrefix string, maxBytes int64) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Local{
		root:      root,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		maxBytes:  maxBytes,
	}, nil
}

func (l *Local) PutObject(_ context.Context, key string, body io.Reader, size int64, _ string) error {
	if l.maxBytes > 0 && size > l.maxBytes {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, size, l.maxBytes)
	}
	fullPath, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	tmpPath := tmp.Name()

	src := body
	if l.maxBytes > 0 {
		src = io.LimitReader(body, l.maxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && l.maxBytes > 0 && n > l.maxBytes {
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, l.maxBytes)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("save %s: %w", key, err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (l *Local) OpenObject(_ context.Context, key string) (io.ReadCloser, error) {
	return l.OpenFile(key)
}

// OpenFile opens the object for key for seeking reads, as http.ServeContent needs.
func (l *Local) OpenFile(key string) (*os.File, error) {
	fullPath, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// GenerateDownloadURL returns the media route for key. Local URLs do not expire;
// the object is removed when its preview is released.
func (l *Local) GenerateDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, err := l.resolve(key); err != nil {
		return "", err
	}
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return l.urlPrefix + "/" + strings.Join(segments, "/"), nil
}

func (l *Local) DeleteObject(_ context.Context, key string) error {
	fullPath, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (l *Local) resolve(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	clean := path.Clean(key)
	if clean != key || clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}
