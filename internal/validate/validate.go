package validate

import (
	"fmt"
	"strings"
)

// VideoContentTypePrefix is the media type prefix every accepted upload must carry.
const VideoContentTypePrefix = "video/"

// Upload field length limits, shared by the API and the landing page.
const (
	MaxFilenameLength    = 255
	MaxContentTypeLength = 127
)

// MaxWebhookURLLength bounds the configured notification endpoints.
const MaxWebhookURLLength = 500

// IsVideoContentType reports whether a declared media type names a video.
// Media types are case-insensitive, and parameters such as codecs are ignored.
func IsVideoContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return strings.HasPrefix(ct, VideoContentTypePrefix) && len(ct) > len(VideoContentTypePrefix)
}

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func Filename(s string) string    { return checkLen(s, MaxFilenameLength, "filename") }
func ContentType(s string) string { return checkLen(s, MaxContentTypeLength, "content type") }
func WebhookURL(s string) string  { return checkLen(s, MaxWebhookURLLength, "webhook URL") }

// FieldLimits returns the upload field limits served by /api/limits.
func FieldLimits() map[string]int {
	return map[string]int{
		"filename":    MaxFilenameLength,
		"contentType": MaxContentTypeLength,
	}
}
