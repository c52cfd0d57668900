package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/drivelens/drivelens/internal/httputil"
)

type SecurityConfig struct {
	BaseURL               string
	StorageEndpoint       string
	AllowedFrameAncestors string
}

func securityHeaders(cfg SecurityConfig) func(http.Handler) http.Handler {
	strictTransport := strings.HasPrefix(cfg.BaseURL, "https://")

	storageSuffix := ""
	if cfg.StorageEndpoint != "" {
		storageSuffix = " " + cfg.StorageEndpoint
	}

	frameAncestors := "'self'"
	if cfg.AllowedFrameAncestors != "" {
		frameAncestors += " " + cfg.AllowedFrameAncestors
	}

	return httputil.WithNonce(func(h http.Header, nonce string) {
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-Content-Type-Options", "nosniff")
		if cfg.AllowedFrameAncestors == "" {
			h.Set("X-Frame-Options", "SAMEORIGIN")
		}
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

		csp := fmt.Sprintf(
			"default-src 'self'; img-src 'self' data:; media-src 'self' blob:%s; script-src 'self' 'nonce-%s'; style-src 'self' 'nonce-%s'; connect-src 'self'%s; frame-ancestors %s;",
			storageSuffix, nonce, nonce, storageSuffix, frameAncestors,
		)
		h.Set("Content-Security-Policy", csp)

		if strictTransport {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
	})
}
