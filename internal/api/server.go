package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"shortsq/internal/domain"
	"shortsq/internal/ports"
)

// Submitter accepts a validated generation request. usecase.Submitter implements it.
type Submitter interface {
	Submit(ctx context.Context, requestID string, params domain.VideoParams, stopAt domain.Stage) (string, error)
}

// Workspace is the part of the task file layout the API serves from.
type Workspace interface {
	TasksDir() string
	Remove(taskID string) error
}

type Config struct {
	Submitter Submitter
	Registry  ports.Registry
	Workspace Workspace
	SongDir   string
	// Endpoint prefixes artifact URLs. Empty means the scheme and host of the request.
	Endpoint string
	Metrics  prometheus.Gatherer
}

type Server struct {
	cfg    Config
	router *chi.Mux
}

func NewServer(cfg Config) *Server {
	s := &Server{cfg: cfg, router: chi.NewRouter()}

	r := s.router
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(func(r *http.Request) bool { return r.URL.Path == "/healthz" || r.URL.Path == "/metrics" }),
		middleware.Recoverer,
		corsHandler,
	)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { ok(w, map[string]string{"status": "up"}) })
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}
	r.Handle("/tasks/*", http.StripPrefix("/tasks/", http.FileServer(http.Dir(cfg.Workspace.TasksDir()))))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/videos", s.create(domain.StageRender))
		r.Post("/subtitle", s.create(domain.StageSubtitle))
		r.Post("/audio", s.create(domain.StageAudio))

		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{id}", s.getTask)
		r.Delete("/tasks/{id}", s.deleteTask)

		r.Get("/musics", s.listMusics)
		r.Post("/musics", s.uploadMusic)

		r.Get("/stream/*", s.serveFile(false))
		r.Get("/download/*", s.serveFile(true))
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	httpServer := http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     s,
		ReadTimeout: 60 * time.Second,
		// Streams and downloads of rendered videos can be long.
		WriteTimeout: 10 * time.Minute,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Info().Msg("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}

	<-done
	log.Info().Msg("Server stopped")
	return nil
}
