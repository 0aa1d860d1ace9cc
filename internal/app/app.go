// Package app assembles one process: configuration, backends, scheduler,
// pipeline and the submission boundary. Everything a command needs is
// reachable from an *App; there are no package level singletons.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"shortsq/internal/config"
	"shortsq/internal/domain"
	"shortsq/internal/infra/amqpq"
	"shortsq/internal/infra/pgstore"
	"shortsq/internal/infra/redisq"
	"shortsq/internal/janitor"
	"shortsq/internal/media"
	"shortsq/internal/pipeline"
	"shortsq/internal/ports"
	"shortsq/internal/registry"
	"shortsq/internal/scheduler"
	"shortsq/internal/usecase"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendAMQP     = "amqp"
	BackendPostgres = "postgres"
)

var ErrUnknownBackend = errors.New("unknown backend")

type App struct {
	Config       *config.Config
	Metrics      *prometheus.Registry
	Registry     ports.Registry
	Queue        ports.Queue
	Workspace    *media.Workspace
	Scheduler    *scheduler.Scheduler
	Orchestrator *pipeline.Orchestrator
	Submitter    usecase.Submitter
	Janitor      *janitor.Janitor

	redis   *redisq.Client
	closers []func() error
}

// Collaborators overrides the media implementations, mainly for tests.
// Nil fields get the command line tool backed defaults.
type Collaborators struct {
	Script     ports.ScriptSource
	Terms      ports.TermExtractor
	Speech     ports.SpeechSynthesizer
	Subtitles  ports.SubtitleGenerator
	Materials  ports.MaterialProvider
	Compositor ports.Compositor
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	return NewWith(ctx, cfg, Collaborators{})
}

func NewWith(ctx context.Context, cfg *config.Config, c Collaborators) (*App, error) {
	a := &App{Config: cfg, Metrics: prometheus.NewRegistry()}
	a.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := a.openRegistry(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Workspace = media.NewWorkspace(cfg.App.StorageDir)
	c = a.defaults(c)

	a.Orchestrator = pipeline.New(pipeline.Config{
		Registry:   a.Registry,
		Workspace:  a.Workspace,
		Script:     c.Script,
		Terms:      c.Terms,
		Speech:     c.Speech,
		Subtitles:  c.Subtitles,
		Materials:  c.Materials,
		Compositor: c.Compositor,
		Metrics:    pipeline.NewMetrics(a.Metrics),
	})

	handlers := scheduler.NewHandlers()
	handlers.Register(pipeline.FuncStart, a.Orchestrator.Handle)

	a.Scheduler = scheduler.New(ctx, scheduler.Config{
		MaxConcurrent: cfg.App.MaxConcurrentTasks,
		Queue:         a.Queue,
		Handlers:      handlers,
		Metrics:       scheduler.NewMetrics(a.Metrics),
	})
	a.Submitter = usecase.Submitter{Registry: a.Registry, Scheduler: a.Scheduler}
	a.Janitor = &janitor.Janitor{Registry: a.Registry, Workspace: a.Workspace, Retention: cfg.Janitor.Retention}

	log.Ctx(ctx).Info().
		Str("registry", cfg.Registry.Backend).
		Str("queue", cfg.Queue.Backend).
		Int("max_concurrent", cfg.App.MaxConcurrentTasks).
		Msg("application assembled")
	return a, nil
}

func (a *App) redisClient(ctx context.Context) (*redisq.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	c, err := redisq.New(a.Config.Redis)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	a.redis = c
	a.closers = append(a.closers, c.Close)
	return c, nil
}

func (a *App) openRegistry(ctx context.Context) error {
	switch a.Config.Registry.Backend {
	case BackendMemory, "":
		a.Registry = registry.NewMemory()
	case BackendRedis:
		c, err := a.redisClient(ctx)
		if err != nil {
			return err
		}
		a.Registry = redisq.NewRegistry(c, a.Config.Registry.Prefix)
	case BackendPostgres:
		pool, err := pgstore.NewPool(ctx, a.Config.Postgres)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		a.Registry = pgstore.NewRegistry(pool)
	default:
		return fmt.Errorf("%w: registry %q", ErrUnknownBackend, a.Config.Registry.Backend)
	}
	return nil
}

func (a *App) openQueue(ctx context.Context) error {
	q := a.Config.Queue
	switch q.Backend {
	case BackendMemory, "":
		a.Queue = scheduler.NewMemoryQueue()
	case BackendRedis:
		c, err := a.redisClient(ctx)
		if err != nil {
			return err
		}
		a.Queue = redisq.NewListQueue(c, q.Name, q.DeadLetter)
	case BackendAMQP:
		conn, err := amqpq.Dial(ctx, a.Config.AMQP.URL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, conn.Close)
		queue, err := amqpq.NewQueue(conn, q.Name, q.DeadLetter)
		if err != nil {
			return err
		}
		a.Queue = queue
	default:
		return fmt.Errorf("%w: queue %q", ErrUnknownBackend, q.Backend)
	}
	return nil
}

func (a *App) defaults(c Collaborators) Collaborators {
	m := a.Config.Media
	runner := media.ExecRunner{}
	prober := media.Prober{Path: m.FFprobePath, Runner: runner}

	if c.Script == nil {
		c.Script = media.ParamsScript{}
	}
	if c.Terms == nil {
		c.Terms = media.KeywordTerms{}
	}
	if c.Speech == nil {
		c.Speech = &media.EdgeTTS{Path: m.EdgeTTSPath, Runner: runner, Prober: prober}
	}
	if c.Subtitles == nil {
		c.Subtitles = &media.Subtitles{
			Provider:     m.SubtitleProvider,
			WhisperPath:  m.WhisperPath,
			WhisperModel: m.WhisperModel,
			Runner:       runner,
		}
	}
	if c.Materials == nil {
		c.Materials = &media.MaterialRouter{
			Local: &media.LocalMaterials{
				FFmpegPath:    m.FFmpegPath,
				Runner:        runner,
				Prober:        prober,
				MinResolution: m.MinResolution,
				Workers:       a.Config.App.MaterialWorkers,
			},
			Remote: map[string]ports.MaterialProvider{
				domain.SourcePexels: media.NewPexels(m.PexelsBaseURL, m.PexelsAPIKeys),
			},
		}
	}
	if c.Compositor == nil {
		c.Compositor = &media.FFmpeg{
			Path:    m.FFmpegPath,
			Runner:  runner,
			Prober:  prober,
			SongDir: a.Config.App.SongDir,
			FontDir: a.Config.App.FontDir,
			Workers: a.Config.App.MaterialWorkers,
		}
	}
	return c
}

// Durable reports whether queued work outlives the process.
func (a *App) Durable() bool {
	return a.Config.Queue.Backend != BackendMemory && a.Config.Queue.Backend != ""
}

// Poller returns the loop that drains work pushed by other processes.
func (a *App) Poller() usecase.Poller {
	return usecase.Poller{
		Scheduler:   a.Scheduler,
		Interval:    a.Config.Queue.PollInterval,
		BaseBackoff: a.Config.Queue.PollInterval,
		MaxBackoff:  30 * a.Config.Queue.PollInterval,
	}
}

// StartJanitor schedules retention sweeps when a schedule is configured.
func (a *App) StartJanitor(ctx context.Context) error {
	if a.Config.Janitor.Schedule == "" {
		return nil
	}
	return a.Janitor.Start(ctx, a.Config.Janitor.Schedule)
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
