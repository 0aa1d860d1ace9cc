// Package worker runs a process that only executes queued jobs. It shares the
// durable queue and registry with the API processes and exposes health and
// metrics endpoints for its orchestrator.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"shortsq/internal/app"
)

var ErrNotDurable = errors.New("worker needs a durable queue backend")

type Worker struct {
	app    *app.App
	router *chi.Mux
}

type health struct {
	Status        string `json:"status"`
	Running       int    `json:"running"`
	MaxConcurrent int    `json:"max_concurrent"`
	Queued        int    `json:"queued"`
}

func New(a *app.App) *Worker {
	w := &Worker{app: a, router: chi.NewRouter()}
	w.router.Get("/healthz", w.healthz)
	w.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.Metrics, promhttp.HandlerOpts{}))
	return w
}

func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w.router.ServeHTTP(rw, r)
}

func (w *Worker) healthz(rw http.ResponseWriter, r *http.Request) {
	running, limit := w.app.Scheduler.Stats()
	h := health{Status: "up", Running: running, MaxConcurrent: limit}

	status := http.StatusOK
	n, err := w.app.Queue.Len(r.Context())
	if err != nil {
		h.Status = "queue unavailable"
		status = http.StatusServiceUnavailable
	}
	h.Queued = n

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(h)
}

// Run polls the queue and serves the health endpoints on port until ctx is
// cancelled. Jobs already started are allowed to finish before it returns.
func (w *Worker) Run(ctx context.Context, port int) error {
	if !w.app.Durable() {
		return ErrNotDurable
	}

	httpServer := http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      w,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("worker health endpoint on port %d", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		_ = w.app.Poller().Run(pollCtx)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			err = fmt.Errorf("health endpoint: %w", err)
		}
	}

	log.Info().Msg("Worker is shutting down...")
	stopPolling()
	<-pollDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("health endpoint forced to shutdown")
	}

	running, _ := w.app.Scheduler.Stats()
	log.Info().Int("running", running).Msg("waiting for in-flight jobs")
	w.app.Scheduler.Wait()
	log.Info().Msg("Worker stopped")
	return err
}
