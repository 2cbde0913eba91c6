package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"mediasync/internal/core"
)

// Server is the event ingestion gateway: it authenticates devices, stamps
// incoming mutations with authoritative timestamps, and serves the ordered
// log back out.
type Server struct {
	cfg     *Config
	store   Store
	objects core.ObjectStore
	clock   *core.LogicalClock
	now     core.Clock
	logger  *slog.Logger
}

// NewServer wires a gateway over the given store and object store. The
// authority clock is seeded from the store's highest issued timestamp so
// ordering survives restarts.
func NewServer(ctx context.Context, cfg *Config, st Store, objects core.ObjectStore, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	floor, err := st.MaxServerTS(ctx)
	if err != nil {
		return nil, fmt.Errorf("seeding authority clock: %w", err)
	}

	return &Server{
		cfg:     cfg,
		store:   st,
		objects: objects,
		clock:   core.NewLogicalClock(floor),
		now:     core.RealClock{},
		logger:  logger,
	}, nil
}

// Router builds the HTTP routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(loggingMiddleware(s.logger))

	if len(s.cfg.CORSAllowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   s.cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
			AllowCredentials: true,
		})
		r.Use(c.Handler)
	}

	if s.cfg.RateLimitPerMin > 0 {
		r.Use(rateLimit(s.cfg.RateLimitPerMin, time.Minute))
	}

	r.Get("/healthz", s.GetHealthz)
	r.Get("/readyz", s.GetReadyz)

	r.Post("/auth/device-begin", s.RegisterDevice)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/index", s.PullEvents)
		r.Post("/index/batch", s.PushBatch)
		r.Get("/index/status", s.GetIndexStatus)
		r.Get("/assets", s.GetAssets)
		r.Get("/integrity/check", s.CheckIntegrity)
		r.Get("/files/orphans", s.GetOrphans)
		r.Post("/files/check-batch", s.CheckBatch)
		r.Get("/files/*", s.GetFile)
		r.Post("/files/*", s.PutFile)
		r.Delete("/files/*", s.DeleteFile)
	})

	return r
}

func (s *Server) GetHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) GetReadyz(w http.ResponseWriter, _ *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable", map[string]any{"error": err.Error()})
		return
	}
	if err := s.objects.ValidateSetup(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "object store unreachable", map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
		})
	}
}
