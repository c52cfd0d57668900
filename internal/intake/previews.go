package intake

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ObjectStorage interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	OpenObject(ctx context.Context, key string) (io.ReadCloser, error)
	GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

const releaseAttempts = 3

// ObjectPreviews keeps preview bytes in object storage. A handle's URL is a
// time-limited download link; releasing the handle deletes the object.
type ObjectPreviews struct {
	storage ObjectStorage
	expiry  time.Duration
}

func NewObjectPreviews(storage ObjectStorage, expiry time.Duration) *ObjectPreviews {
	if expiry <= 0 {
		expiry = 2 * time.Hour
	}
	return &ObjectPreviews{storage: storage, expiry: expiry}
}

func (p *ObjectPreviews) Create(ctx context.Context, sessionID string, f File) (PreviewHandle, error) {
	key := previewKey(sessionID, f.Name, f.ContentType)

	if err := p.storage.PutObject(ctx, key, f.Body, f.Size, f.ContentType); err != nil {
		return PreviewHandle{}, fmt.Errorf("store preview: %w", err)
	}

	url, err := p.storage.GenerateDownloadURL(ctx, key, p.expiry)
	if err != nil {
		p.deleteQuietly(ctx, key)
		return PreviewHandle{}, fmt.Errorf("preview url: %w", err)
	}

	return PreviewHandle{Key: key, URL: url}, nil
}

func (p *ObjectPreviews) Open(ctx context.Context, h PreviewHandle) (io.ReadCloser, error) {
	return p.storage.OpenObject(ctx, h.Key)
}

func (p *ObjectPreviews) Release(ctx context.Context, h PreviewHandle) error {
	if h.Key == "" {
		return nil
	}
	return deleteWithRetry(ctx, p.storage, h.Key, releaseAttempts)
}

func (p *ObjectPreviews) deleteQuietly(ctx context.Context, key string) {
	_ = p.storage.DeleteObject(context.WithoutCancel(ctx), key)
}

func deleteWithRetry(ctx context.Context, storage ObjectStorage, key string, attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = storage.DeleteObject(ctx, key); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-time.After(time.Duration(i+1) * 200 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("delete %s after %d attempts: %w", key, attempts, err)
}

func previewKey(sessionID, filename, contentType string) string {
	return fmt.Sprintf("previews/%s/%s%s", sessionID, uuid.New().String(), extensionFor(filename, contentType))
}

func extensionFor(filename, contentType string) string {
	switch contentType {
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	}
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" || len(ext) > 8 || strings.ContainsAny(ext, `/\ `) {
		return ".bin"
	}
	return ext
}
