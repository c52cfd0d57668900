package server

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/drivelens/drivelens/internal/auth"
	"github.com/drivelens/drivelens/internal/httputil"
	"github.com/drivelens/drivelens/internal/intake"
	"github.com/drivelens/drivelens/internal/storage"
	"github.com/drivelens/drivelens/internal/validate"
)

const (
	multipartMemory   = 32 << 20
	eventPingInterval = 15 * time.Second
)

type createSessionResponse struct {
	ID    string       `json:"id"`
	Token string       `json:"token"`
	State intake.State `json:"state"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var origin intake.Origin
	if s.origins != nil {
		origin = s.origins.Origin(r)
	}

	session := s.sessions.Create(origin)
	token, err := s.auth.IssueToken(session.ID())
	if err != nil {
		slog.Error("server: failed to issue session token", "session_id", session.ID(), "error", err)
		_ = s.sessions.Close(r.Context(), session.ID())
		httputil.WriteError(w, http.StatusInternalServerError, "could not start session")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, createSessionResponse{
		ID:    session.ID(),
		Token: token,
		State: session.Snapshot(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Close(r.Context(), session.ID()); err != nil {
		writeIntakeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectVideo(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	if r.ContentLength > s.maxUploadBytes {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "video is too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "video is too large")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files, closeFiles, err := openUploads(r.MultipartForm.File["video"])
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeFiles()

	if r.URL.Query().Get("via") == "drop" {
		if _, err := session.SelectFileViaDrop(r.Context(), files...); err != nil {
			writeIntakeError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, session.Snapshot())
		return
	}

	if err := session.SelectFile(r.Context(), files...); err != nil {
		writeIntakeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session.Snapshot())
}

// openUploads opens the first uploaded file. Later files in the same
// selection are never read. Length limits apply only to videos; anything else
// is left for the session to reject or ignore.
func openUploads(headers []*multipart.FileHeader) ([]intake.File, func(), error) {
	if len(headers) == 0 {
		return nil, func() {}, nil
	}
	fh := headers[0]
	contentType := fh.Header.Get("Content-Type")
	if validate.IsVideoContentType(contentType) {
		if msg := validate.Filename(fh.Filename); msg != "" {
			return nil, nil, errors.New(msg)
		}
		if msg := validate.ContentType(contentType); msg != "" {
			return nil, nil, errors.New(msg)
		}
	}

	f, err := fh.Open()
	if err != nil {
		return nil, nil, errors.New("could not read upload")
	}
	file := intake.File{
		Name:        fh.Filename,
		ContentType: contentType,
		Size:        fh.Size,
		Body:        f,
	}
	return []intake.File{file}, func() { _ = f.Close() }, nil
}

func (s *Server) handleRequestAnalysis(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	if session.RequestAnalysis() {
		httputil.WriteJSON(w, http.StatusAccepted, session.Snapshot())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) handleRetake(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	if err := session.Retake(r.Context()); err != nil {
		writeIntakeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	stream, err := httputil.NewEventStream(w)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if err := stream.Send(string(intake.EventState), intake.Event{Type: intake.EventState, State: session.Snapshot()}); err != nil {
		return
	}

	streamEvents(r.Context(), stream, events, eventPingInterval)
}

func streamEvents(ctx context.Context, stream *httputil.EventStream, events <-chan intake.Event, pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = stream.Send("closed", map[string]string{"reason": intake.UserMessage(intake.ErrClosed)})
				return
			}
			if err := stream.Send(string(ev.Type), ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := stream.Ping(); err != nil {
				return
			}
		}
	}
}

// sessionFromRequest resolves the {id} session and checks it against the
// session token. It writes the error response itself when it returns false.
func (s *Server) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*intake.Session, bool) {
	id := chi.URLParam(r, "id")
	if auth.SessionIDFromContext(r.Context()) != id {
		httputil.WriteError(w, http.StatusForbidden, "token does not match session")
		return nil, false
	}

	session, err := s.sessions.Get(id)
	if err != nil {
		writeIntakeError(w, err)
		return nil, false
	}
	return session, true
}

func writeIntakeError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, intake.ErrInvalidFileType):
		httputil.WriteError(w, http.StatusUnsupportedMediaType, intake.UserMessage(err))
	case errors.Is(err, intake.ErrNoFile):
		httputil.WriteError(w, http.StatusBadRequest, intake.UserMessage(err))
	case errors.Is(err, intake.ErrBusy):
		httputil.WriteError(w, http.StatusConflict, intake.UserMessage(err))
	case errors.Is(err, intake.ErrClosed), errors.Is(err, intake.ErrSessionNotFound):
		httputil.WriteError(w, http.StatusNotFound, intake.UserMessage(err))
	case errors.Is(err, storage.ErrTooLarge), errors.As(err, &maxErr):
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "video is too large")
	default:
		slog.Error("server: intake request failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, intake.UserMessage(err))
	}
}
