package server

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/drivelens/drivelens/internal/httputil"
	"github.com/drivelens/drivelens/internal/storage"
)

// handleMedia serves preview objects from the local storage backend. Keys
// carry a random component, so the URL itself is the capability.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	f, err := s.media.OpenFile(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			httputil.WriteError(w, http.StatusNotFound, "not found")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "invalid media path")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
