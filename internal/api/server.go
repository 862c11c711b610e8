package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/theorogram/server/internal/admin"
	"github.com/theorogram/server/internal/auth"
	"github.com/theorogram/server/internal/cache"
	"github.com/theorogram/server/internal/moderation"
	"github.com/theorogram/server/internal/reputation"
	"github.com/theorogram/server/internal/rescan"
	"github.com/theorogram/server/internal/storage"
)

// Submitter accepts new theories
type Submitter interface {
	Submit(ctx context.Context, sub moderation.Submission) (*moderation.Decision, error)
}

// RescanTrigger starts rescan passes on demand
type RescanTrigger interface {
	RunOnce(ctx context.Context) (*rescan.Report, error)
	Running() bool
	LastReport() *rescan.Report
}

// Awarder credits reputation for interactions
type Awarder interface {
	Apply(ctx context.Context, userID uuid.UUID, action reputation.ActionName)
	ApplyDelta(ctx context.Context, userID uuid.UUID, amount int)
}

// Config holds HTTP server configuration
type Config struct {
	CORSOrigins []string
	CacheTTL    time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		CORSOrigins: []string{"http://localhost:*", "https://*"},
		CacheTTL:    cache.DefaultTTL,
	}
}

// Deps are the components the HTTP layer glues together
type Deps struct {
	Submitter Submitter
	Repos     *storage.Repositories
	Awarder   Awarder
	Admin     *admin.Service
	Rescan    RescanTrigger
	Cache     cache.Store
	Auth      *auth.Authenticator
}

type Server struct {
	router *chi.Mux
	deps   Deps
	cfg    Config
	logger logrus.FieldLogger

	// parent of work that outlives a request, such as manual rescans
	baseCtx context.Context
	stop    context.CancelFunc
}

func NewServer(deps Deps, cfg Config, logger logrus.FieldLogger) *Server {
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = DefaultConfig().CORSOrigins
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router: r,
		deps:   deps,
		cfg:    cfg,
		logger: logger.WithField("component", "api"),
	}
	s.baseCtx, s.stop = context.WithCancel(context.Background())
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	authn := s.deps.Auth

	// Health check
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)

		r.Route("/theories", func(r chi.Router) {
			r.Get("/", s.handleListTheories)
			r.With(authn.OptionalMiddleware).Get("/{id}", s.handleGetTheory)
			r.Get("/{id}/stats", s.handleTheoryStats)
			r.With(authn.Middleware).Post("/", s.handleCreateTheory)
		})

		r.Route("/users", func(r chi.Router) {
			r.With(authn.IdentityMiddleware).Post("/register", s.handleRegister)
			r.With(authn.Middleware).Get("/me", s.handleMe)
			r.Get("/{username}", s.handleUserProfile)
			r.Get("/{username}/theories", s.handleUserTheories)
			r.Get("/{username}/level", s.handleUserLevel)
		})

		r.Get("/comments/{theoryID}", s.handleListComments)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authn.Middleware)

			r.Post("/votes", s.handleVote)
			r.Get("/votes/user/{theoryID}", s.handleGetVote)
			r.Post("/stances", s.handleStance)
			r.Get("/stances/user/{theoryID}", s.handleGetStance)
			r.Post("/comments", s.handleCreateComment)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authn.Middleware)
			r.Use(auth.RequireAdmin)

			r.Delete("/theories/{id}", s.handleAdminDeleteTheory)
			r.Post("/theories/{id}/flag-mature", s.handleAdminFlagMature)
			r.Post("/theories/{id}/unflag-mature", s.handleAdminUnflagMature)
			r.Delete("/comments/{id}", s.handleAdminDeleteComment)

			r.Get("/users", s.handleAdminListUsers)
			r.Post("/users/{id}/ban", s.handleAdminBan)
			r.Post("/users/{id}/unban", s.handleAdminUnban)
			r.Post("/users/{id}/ban-timed", s.handleAdminBanTimed)
			r.Post("/users/{id}/suspend", s.handleAdminSuspend)
			r.Post("/users/{id}/unsuspend", s.handleAdminUnsuspend)
			r.Post("/users/{id}/shadowban", s.handleAdminShadowban)
			r.Post("/users/{id}/unshadowban", s.handleAdminUnshadowban)
			r.Post("/users/{id}/restrict-posting", s.handleAdminRestrictPosting)
			r.Post("/users/{id}/unrestrict-posting", s.handleAdminUnrestrictPosting)

			r.Get("/moderation-logs", s.handleAdminModerationLogs)
			r.Get("/audit-logs", s.handleAdminAuditLogs)
			r.Get("/moderation-history/{id}", s.handleAdminHistory)
			r.Get("/stats", s.handleAdminStats)
			r.Post("/rescan", s.handleAdminRescan)
			r.Get("/rescan", s.handleAdminRescanStatus)
		})
	})
}

// ServeHTTP makes the server usable as an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close cancels background work started by handlers
func (s *Server) Close() {
	s.stop()
}

// Run serves on addr until ctx is done, then shuts down gracefully.
// Background work started by handlers is cancelled when Run returns.
func (s *Server) Run(ctx context.Context, addr string) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("api server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("request")
		})
	}
}

// Helper to send JSON responses
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
