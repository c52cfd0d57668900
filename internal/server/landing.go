package server

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/drivelens/drivelens/internal/httputil"
	"github.com/drivelens/drivelens/internal/validate"
)

type landingData struct {
	Nonce          string
	MaxUploadBytes int64
	MaxUploadMB    int64
	AcceptPrefix   string
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	data := landingData{
		Nonce:          httputil.NonceFromContext(r.Context()),
		MaxUploadBytes: s.maxUploadBytes,
		MaxUploadMB:    s.maxUploadBytes / (1024 * 1024),
		AcceptPrefix:   validate.VideoContentTypePrefix,
	}

	var buf bytes.Buffer
	if err := s.landing.ExecuteTemplate(&buf, "index.html", data); err != nil {
		slog.Error("server: failed to render landing page", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not render page")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = buf.WriteTo(w)
}

type limitsResponse struct {
	MaxUploadBytes     int64          `json:"maxUploadBytes"`
	AcceptedTypePrefix string         `json:"acceptedTypePrefix"`
	Fields             map[string]int `json:"fields"`
}

func (s *Server) handleLimits(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, limitsResponse{
		MaxUploadBytes:     s.maxUploadBytes,
		AcceptedTypePrefix: validate.VideoContentTypePrefix,
		Fields:             validate.FieldLimits(),
	})
}
