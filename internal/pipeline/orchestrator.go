// Package pipeline drives one task through the ordered generation stages.
//
// Stages run strictly in order: script, terms, audio, subtitle, materials,
// render. After each stage the task record is updated with the stage's
// artifacts and cumulative progress. A caller chosen stop stage finalizes the
// task as complete right after that stage; any stage failure marks it failed
// and nothing after it runs.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"shortsq/internal/domain"
	"shortsq/internal/ports"
	"shortsq/pkg/backoff"
)

const (
	progressStarted   = 5
	progressScript    = 10
	progressTerms     = 20
	progressAudio     = 30
	progressSubtitle  = 40
	progressMaterials = 50
)

const defaultRetryDelay = 200 * time.Millisecond

type Config struct {
	Registry   ports.Registry
	Workspace  ports.Workspace
	Script     ports.ScriptSource
	Terms      ports.TermExtractor
	Speech     ports.SpeechSynthesizer
	Subtitles  ports.SubtitleGenerator
	Materials  ports.MaterialProvider
	Compositor ports.Compositor
	Metrics    *Metrics

	// RetryDelay is the base wait before a failed registry write is retried.
	RetryDelay time.Duration
}

type Orchestrator struct {
	registry   ports.Registry
	workspace  ports.Workspace
	script     ports.ScriptSource
	terms      ports.TermExtractor
	speech     ports.SpeechSynthesizer
	subtitles  ports.SubtitleGenerator
	materials  ports.MaterialProvider
	compositor ports.Compositor
	metrics    *Metrics
	retryDelay time.Duration
}

func New(cfg Config) *Orchestrator {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Orchestrator{
		registry:   cfg.Registry,
		workspace:  cfg.Workspace,
		script:     cfg.Script,
		terms:      cfg.Terms,
		speech:     cfg.Speech,
		subtitles:  cfg.Subtitles,
		materials:  cfg.Materials,
		compositor: cfg.Compositor,
		metrics:    metrics,
		retryDelay: cmp.Or(cfg.RetryDelay, defaultRetryDelay),
	}
}

// Handle decodes a queued job and runs it. It matches scheduler.HandlerFunc.
func (o *Orchestrator) Handle(ctx context.Context, args ports.Args) error {
	var job Job
	if err := args.Decode(&job); err != nil {
		err = fmt.Errorf("decode pipeline job: %w", err)
		if id, _ := args["task_id"].(string); id != "" {
			logger := log.With().Str("task_id", id).Logger()
			return o.fail(logger.WithContext(ctx), &run{job: Job{TaskID: id}}, err)
		}
		return err
	}
	return o.Run(ctx, job)
}

// run carries the artifacts produced so far for one task.
type run struct {
	job      Job
	dir      string
	script   string
	terms    []string
	speech   ports.Speech
	subtitle string
	clips    []string
	videos   []string
	combined []string
}

type stageFunc func(ctx context.Context, r *run) (*domain.TaskUpdate, error)

// Run executes job until its stop stage, a failure, or the end of the pipeline.
// A panicking stage fails the task like any other stage error.
func (o *Orchestrator) Run(ctx context.Context, job Job) (err error) {
	logger := log.With().Str("task_id", job.TaskID).Str("request_id", job.RequestID).Logger()
	ctx = logger.WithContext(ctx)

	r := &run{job: job}
	defer func() {
		if p := recover(); p != nil {
			logger.Error().Bytes("stack", debug.Stack()).Msgf("pipeline panicked: %v", p)
			err = o.fail(ctx, r, fmt.Errorf("%w: %v", ErrPanic, p))
		}
	}()

	stopAt := job.StopAt
	if stopAt == 0 {
		stopAt = domain.StageRender
	}
	logger.Info().Stringer("stop_at", stopAt).Msg("starting task")

	if err := o.record(ctx, job.TaskID, domain.Progress(progressStarted)); err != nil {
		return o.fail(ctx, r, fmt.Errorf("start task %s: %w", job.TaskID, err))
	}

	dir, err := o.workspace.TaskDir(job.TaskID)
	if err != nil {
		return o.fail(ctx, r, &StageError{Stage: domain.StageScript, Err: err})
	}
	r.dir = dir

	stages := []struct {
		stage domain.Stage
		fn    stageFunc
	}{
		{domain.StageScript, o.stageScript},
		{domain.StageTerms, o.stageTerms},
		{domain.StageAudio, o.stageAudio},
		{domain.StageSubtitle, o.stageSubtitle},
		{domain.StageMaterials, o.stageMaterials},
		{domain.StageRender, o.stageRender},
	}

	for _, s := range stages {
		started := time.Now()
		u, err := s.fn(ctx, r)
		o.metrics.observe(s.stage, started, err)
		if err != nil {
			return o.fail(ctx, r, &StageError{Stage: s.stage, Err: err})
		}
		if s.stage == stopAt {
			if u == nil {
				u = &domain.TaskUpdate{}
			}
			complete := domain.StatusComplete
			u.Status = &complete
		}
		if u != nil {
			if err := o.record(ctx, job.TaskID, *u); err != nil {
				return o.fail(ctx, r, fmt.Errorf("record %s stage of task %s: %w", s.stage, job.TaskID, err))
			}
		}
		log.Ctx(ctx).Info().Stringer("stage", s.stage).Dur("took", time.Since(started)).Msg("stage finished")
		if s.stage == stopAt {
			log.Ctx(ctx).Info().Stringer("stage", s.stage).Msg("task complete")
			return nil
		}
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) error {
	log.Ctx(ctx).Error().Err(err).Msg("task failed")

	u := domain.Status(domain.StatusFailed)
	if len(r.videos) > 0 {
		u.Videos = r.videos
		u.CombinedVideos = r.combined
	}
	if uerr := o.record(ctx, r.job.TaskID, u); uerr != nil &&
		!errors.Is(uerr, domain.ErrTaskFinalized) && !errors.Is(uerr, domain.ErrTaskNotFound) {
		log.Ctx(ctx).Error().Err(uerr).Msg("failed to record task failure")
	}
	return err
}

// record writes u and retries once after a short backoff when the registry
// backend fails. Contract errors are returned as is.
func (o *Orchestrator) record(ctx context.Context, id string, u domain.TaskUpdate) error {
	_, err := o.registry.Update(ctx, id, u)
	if err == nil || !transient(err) {
		return err
	}

	retry := &backoff.Retrier{Base: o.retryDelay, Max: 4 * o.retryDelay}
	delay := retry.Next()
	log.Ctx(ctx).Warn().Err(err).Dur("retry_in", delay).Msg("task update failed")
	select {
	case <-ctx.Done():
		return err
	case <-time.After(delay):
	}
	_, err = o.registry.Update(ctx, id, u)
	return err
}

func transient(err error) bool {
	return !errors.Is(err, domain.ErrTaskNotFound) &&
		!errors.Is(err, domain.ErrTaskFinalized) &&
		!errors.Is(err, domain.ErrInvalidTransition)
}

func (o *Orchestrator) stageScript(ctx context.Context, r *run) (*domain.TaskUpdate, error) {
	script, err := o.script.Script(ctx, r.job.Params)
	if err != nil {
		return nil, err
	}
	script = strings.TrimSpace(script)
	if script == "" || strings.Contains(script, "Error: ") {
		return nil, fmt.Errorf("script: %w", ErrEmptyResult)
	}
	r.script = script

	u := domain.Progress(progressScript)
	u.Script = &script
	return &u, nil
}

// stageTerms derives search keywords for remote material sources and
// snapshots the script. Local sources skip keyword derivation.
func (o *Orchestrator) stageTerms(ctx context.Context, r *run) (*domain.TaskUpdate, error) {
	p := r.job.Params
	var u *domain.TaskUpdate
	if p.VideoSource != domain.SourceLocal {
		terms, err := o.terms.Terms(ctx, r.script, p)
		if err != nil {
			return nil, err
		}
		if len(terms) == 0 {
			return nil, fmt.Errorf("terms: %w", ErrEmptyResult)
		}
		r.terms = terms
		pu := domain.Progress(progressTerms)
		pu.Terms = terms
		u = &pu
	}

	if err := o.workspace.SaveScript(r.job.TaskID, r.script, r.terms, p.VideoSubject); err != nil {
		return nil, fmt.Errorf("save script snapshot: %w", err)
	}
	return u, nil
}

func (o *Orchestrator) stageAudio(ctx context.Context, r *run) (*domain.TaskUpdate, error) {
	p := r.job.Params
	speech, err := o.speech.Synthesize(ctx, ports.SpeechRequest{
		Text:      r.script,
		Voice:     p.VoiceName,
		Rate:      p.VoiceRate,
		Volume:    p.VoiceVolume,
		AudioFile: filepath.Join(r.dir, "audio.mp3"),
	})
	if err != nil {
		return nil, err
	}
	if speech.AudioFile == "" {
		return nil, fmt.Errorf("audio: %w", ErrEmptyResult)
	}
	speech.Duration = math.Ceil(speech.Duration)
	r.speech = speech

	u := domain.Progress(progressAudio)
	u.AudioFile = &speech.AudioFile
	u.AudioDuration = &speech.Duration
	return &u, nil
}

func (o *Orchestrator) stageSubtitle(ctx context.Context, r *run) (*domain.TaskUpdate, error) {
	u := domain.Progress(progressSubtitle)
	if !r.job.Params.SubtitlesOn() {
		log.Ctx(ctx).Info().Msg("subtitles disabled")
		return &u, nil
	}

	path, err := o.subtitles.Subtitles(ctx, ports.SubtitleRequest{
		AudioFile:    r.speech.AudioFile,
		Script:       r.script,
		Captions:     r.speech.Captions,
		SubtitleFile: filepath.Join(r.dir, "subtitle.srt"),
	})
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("subtitle: %w", ErrEmptyResult)
	}
	r.subtitle = path
	u.SubtitlePath = &path
	return &u, nil
}

func (o *Orchestrator) stageMaterials(ctx context.Context, r *run) (*domain.TaskUpdate, error) {
	p := r.job.Params
	clips, err := o.materials.Materials(ctx, ports.MaterialRequest{
		TaskDir:     r.dir,
		Source:      p.VideoSource,
		Terms:       r.terms,
		Local:       p.VideoMaterials,
		Duration:    r.speech.Duration * float64(p.VideoCount),
		ClipSeconds: p.VideoClipDuration,
		Aspect:      p.VideoAspect,
		ConcatMode:  p.VideoConcatMode,
	})
	if err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("materials: %w", ErrEmptyResult)
	}
	r.clips = clips

	u := domain.Progress(progressMaterials)
	u.Materials = clips
	return &u, nil
}

// stageRender produces every requested output. Each output moves progress by
// 50/N, split between combining the clips and compositing the final file.
func (o *Orchestrator) stageRender(ctx context.Context, r *run) (*domain.TaskUpdate, error) {
	p := r.job.Params
	count := max(p.VideoCount, 1)
	mode := p.VideoConcatMode
	if count > 1 {
		mode = domain.ConcatRandom
	}

	step := float64(100-progressMaterials) / float64(count) / 2
	progress := float64(progressMaterials)
	for i := 1; i <= count; i++ {
		combined := filepath.Join(r.dir, fmt.Sprintf("combined-%d.mp4", i))
		log.Ctx(ctx).Info().Int("index", i).Str("path", combined).Msg("combining clips")
		err := o.compositor.Combine(ctx, ports.CombineRequest{
			Output:      combined,
			Clips:       r.clips,
			AudioFile:   r.speech.AudioFile,
			Aspect:      p.VideoAspect,
			ConcatMode:  mode,
			Transition:  p.VideoTransitionMode,
			ClipSeconds: p.VideoClipDuration,
			Threads:     p.NThreads,
		})
		if err != nil {
			return nil, fmt.Errorf("combine output %d: %w", i, err)
		}
		progress += step
		if err := o.record(ctx, r.job.TaskID, domain.Progress(progress)); err != nil {
			return nil, err
		}

		final := filepath.Join(r.dir, fmt.Sprintf("final-%d.mp4", i))
		log.Ctx(ctx).Info().Int("index", i).Str("path", final).Msg("compositing output")
		err = o.compositor.Composite(ctx, ports.CompositeRequest{
			Video:        combined,
			AudioFile:    r.speech.AudioFile,
			SubtitleFile: r.subtitle,
			Output:       final,
			Params:       p,
		})
		if err != nil {
			return nil, fmt.Errorf("composite output %d: %w", i, err)
		}
		r.combined = append(r.combined, combined)
		r.videos = append(r.videos, final)

		// The last tick is folded into the completion update.
		progress += step
		if i < count {
			if err := o.record(ctx, r.job.TaskID, domain.Progress(progress)); err != nil {
				return nil, err
			}
		}
	}

	u := domain.Progress(100)
	u.Videos = r.videos
	u.CombinedVideos = r.combined
	return &u, nil
}
