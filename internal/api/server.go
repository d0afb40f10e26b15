// Package api serves the HTTP surface used by the browser UI.
//
// Reads go straight to the store. Every mutating route runs under the
// write-coordination lock, so the folder watcher cannot start a
// reconciliation pass while a handler is writing files or the document.
// Handlers that write files into a project folder also record the result in
// the store immediately; the next pass then finds nothing to do.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/promptshelf/promptshelf/internal/index"
	"github.com/promptshelf/promptshelf/internal/notify"
	"github.com/promptshelf/promptshelf/internal/reconcile"
	"github.com/promptshelf/promptshelf/internal/store"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrImageNotFound   = errors.New("image not found")
	ErrGroupNotFound   = errors.New("group not found")
	ErrNoFolder        = errors.New("project has no folder")
	ErrFolderMissing   = errors.New("folder does not exist")
	ErrSearchDisabled  = errors.New("search index is disabled")
)

// Locker is the write-coordination lock held for the duration of every
// mutating request.
type Locker interface {
	Lock()
	Unlock()
}

// Refresher rebuilds the folder watch set after projects change.
type Refresher interface {
	Refresh() error
}

// Searcher answers prompt searches.
type Searcher interface {
	Search(ctx context.Context, query, projectID string, limit int) ([]index.Hit, error)
}

// Deps are the collaborators a Server talks to. Store and Reconciler are
// required; everything else may be nil.
type Deps struct {
	Store      store.Updater
	Reconciler reconcile.Reconciler
	Notifier   notify.Notifier
	Lock       Locker
	Watch      Refresher
	Search     Searcher

	// Live serves the /ws endpoint when set.
	Live http.Handler
}

// Config holds configuration for the HTTP API.
type Config struct {
	// RateLimit is requests per minute per client IP and endpoint.
	// Zero disables rate limiting.
	RateLimit int

	// MaxUploadBytes bounds multipart uploads.
	MaxUploadBytes int64

	// Logger for API activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RateLimit:      120,
		MaxUploadBytes: 64 << 20,
		Logger:         log.New(os.Stderr, "[api] ", log.LstdFlags),
	}
}

// Server implements the HTTP API.
type Server struct {
	store      store.Updater
	reconciler reconcile.Reconciler
	notifier   notify.Notifier
	lock       Locker
	watch      Refresher
	search     Searcher
	live       http.Handler

	config *Config
	router chi.Router
}

// New creates a Server with default configuration.
func New(deps Deps) (*Server, error) {
	return NewWithConfig(deps, DefaultConfig())
}

// NewWithConfig creates a Server with custom configuration.
func NewWithConfig(deps Deps, config *Config) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("reconciler is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}

	s := &Server{
		store:      deps.Store,
		reconciler: deps.Reconciler,
		notifier:   deps.Notifier,
		lock:       deps.Lock,
		watch:      deps.Watch,
		search:     deps.Search,
		live:       deps.Live,
		config:     config,
	}
	if s.notifier == nil {
		s.notifier = notify.Nop
	}
	if s.lock == nil {
		s.lock = nopLocker{}
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  s.config.Logger,
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.live != nil {
		r.Handle("/ws", s.live)
	}
	r.Get("/images/{projectID}/{filename}", s.handleServeFile)

	r.Route("/api", func(r chi.Router) {
		if s.config.RateLimit > 0 {
			r.Use(httprate.Limit(
				s.config.RateLimit,
				1*time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
			))
		}

		r.Get("/projects", s.handleListProjects)
		r.Get("/projects/{projectID}", s.handleGetProject)
		r.Get("/images/{projectID}/{imageID}/file", s.handleGetImageFile)
		r.Get("/search", s.handleSearch)

		r.Group(func(r chi.Router) {
			r.Use(WriteLock(s.lock))

			r.Post("/projects", s.handleCreateProject)
			r.Post("/projects/open-folder", s.handleOpenFolder)
			r.Put("/projects/{projectID}", s.handleUpdateProject)
			r.Delete("/projects/{projectID}", s.handleDeleteProject)

			r.Post("/images/{projectID}", s.handleUploadImage)
			r.Put("/images/{projectID}/{imageID}", s.handleUpdatePrompt)
			r.Delete("/images/{projectID}/{imageID}", s.handleDeleteImage)

			r.Post("/projects/{projectID}/groups", s.handleCreateGroup)
			r.Put("/projects/{projectID}/groups/{groupID}", s.handleUpdateGroup)
			r.Delete("/projects/{projectID}/groups/{groupID}", s.handleDeleteGroup)
			r.Post("/projects/{projectID}/groups/{groupID}/images", s.handleAddToGroup)
			r.Delete("/projects/{projectID}/groups/{groupID}/images/{imageID}", s.handleRemoveFromGroup)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "path not found")
	})
	return r
}

// WriteLock holds l for the whole request. The release is deferred, so it
// happens on every exit path: normal return, panic, or client abort.
func WriteLock(l Locker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l.Lock()
			defer l.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// refreshWatch rebuilds the watch set. Failures only cost live updates until
// the next periodic rescan, so they are logged rather than returned.
func (s *Server) refreshWatch() {
	if s.watch == nil {
		return
	}
	if err := s.watch.Refresh(); err != nil {
		s.config.Logger.Printf("WARNING: failed to refresh watcher: %v", err)
	}
}
