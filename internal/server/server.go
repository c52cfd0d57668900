package server

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/drivelens/drivelens/internal/auth"
	"github.com/drivelens/drivelens/internal/intake"
	"github.com/drivelens/drivelens/internal/ratelimit"
)

const DefaultMaxUploadBytes = 500 * 1024 * 1024

type Pinger interface {
	Ping(ctx context.Context) error
}

// OriginResolver describes the client behind a request.
type OriginResolver interface {
	Origin(r *http.Request) intake.Origin
}

// MediaStore serves preview objects kept on local disk.
type MediaStore interface {
	OpenFile(key string) (*os.File, error)
}

type Config struct {
	Sessions        *intake.Manager
	Auth            *auth.Handler
	Origins         OriginResolver
	Pinger          Pinger
	Media           MediaStore
	WebFS           fs.FS
	BaseURL         string
	StorageEndpoint string
	FrameAncestors  string
	MaxUploadBytes  int64
}

type Server struct {
	router         chi.Router
	sessions       *intake.Manager
	auth           *auth.Handler
	origins        OriginResolver
	pinger         Pinger
	media          MediaStore
	webFS          fs.FS
	landing        *template.Template
	maxUploadBytes int64
	limiters       []*ratelimit.Limiter
}

func New(cfg Config) (*Server, error) {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:               cfg.BaseURL,
		StorageEndpoint:       cfg.StorageEndpoint,
		AllowedFrameAncestors: cfg.FrameAncestors,
	}))

	s := &Server{
		router:         r,
		sessions:       cfg.Sessions,
		auth:           cfg.Auth,
		origins:        cfg.Origins,
		pinger:         cfg.Pinger,
		media:          cfg.Media,
		webFS:          cfg.WebFS,
		maxUploadBytes: cfg.MaxUploadBytes,
	}

	if cfg.WebFS != nil {
		tmpl, err := template.ParseFS(cfg.WebFS, "index.html")
		if err != nil {
			return nil, fmt.Errorf("parse landing page: %w", err)
		}
		s.landing = tmpl
	}

	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StartBackground runs the rate limiters' cleanup until ctx is cancelled.
func (s *Server) StartBackground(ctx context.Context) {
	for _, l := range s.limiters {
		l.StartCleanup(ctx)
	}
}

func (s *Server) newLimiter(requestsPerSecond float64, burst int) *ratelimit.Limiter {
	l := ratelimit.NewLimiter(requestsPerSecond, burst)
	s.limiters = append(s.limiters, l)
	return l
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/limits", s.handleLimits)

	if s.sessions != nil && s.auth != nil {
		createLimiter := s.newLimiter(0.5, 10)
		sessionLimiter := s.newLimiter(5, 30)
		uploadLimiter := s.newLimiter(0.5, 5)

		s.router.With(createLimiter.Middleware).Post("/api/sessions", s.handleCreateSession)
		s.router.Route("/api/sessions/{id}", func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Use(sessionLimiter.Middleware)
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.With(uploadLimiter.Middleware).Post("/video", s.handleSelectVideo)
			r.Post("/analysis", s.handleRequestAnalysis)
			r.Post("/retake", s.handleRetake)
			r.Get("/events", s.handleEvents)
		})
	}

	if s.media != nil {
		s.router.Get("/media/*", s.handleMedia)
	}

	if s.webFS != nil {
		if static, err := fs.Sub(s.webFS, "static"); err == nil {
			s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
		} else {
			slog.Warn("server: no static assets found", "error", err)
		}
		s.router.Get("/", s.handleLanding)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
