// Package server exposes the composer repository over HTTP.
//
// The route tree is scoped per repository name. Composer-facing endpoints
// (packages.json, p2 metadata, search, list, dist downloads) are read
// paths against the store; the upload and incoming webhook endpoints feed
// the ingestion engine.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/depot/internal/blob"
	"github.com/matzehuels/depot/internal/ingest"
	"github.com/matzehuels/depot/internal/store"
)

// Server handles the composer repository HTTP surface.
type Server struct {
	store    store.Store
	engine   *ingest.Engine
	archives blob.Store
	baseURL  string
	secret   string // shared webhook secret
	log      *log.Logger
}

// New creates a Server.
func New(s store.Store, engine *ingest.Engine, archives blob.Store, baseURL, webhookSecret string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		store:    s,
		engine:   engine,
		archives: archives,
		baseURL:  baseURL,
		secret:   webhookSecret,
		log:      logger,
	}
}

// Router builds the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/{repo}", func(r chi.Router) {
		r.Use(s.repoCtx)

		r.Get("/packages.json", s.handleRoot)
		r.Get("/search.json", s.handleSearch)
		r.Get("/list.json", s.handleList)
		r.Get("/p2/{vendor}/{name}", s.handleMetadata)
		r.Get("/dist/{vendor}/{name}/*", s.handleDownload)

		r.Post("/upload", s.handleUpload)
		r.Post("/incoming/{provider}", s.handleWebhook)

		r.Get("/projects", s.handleProjects)
		r.Post("/register", s.handleRegister)
		r.Post("/sync/{vendor}/{name}", s.handleSync)
	})

	return r
}

type ctxKey int

const repoKey ctxKey = 0

// repoCtx resolves the repository path segment once per request.
func (s *Server) repoCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		repo, err := s.store.FindRepository(r.Context(), chi.URLParam(r, "repo"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), repoKey, repo)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func repoFromContext(ctx context.Context) *store.Repository {
	repo, _ := ctx.Value(repoKey).(*store.Repository)
	return repo
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}
