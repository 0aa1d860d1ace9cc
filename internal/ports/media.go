package ports

import (
	"context"

	"shortsq/internal/domain"
)

type ScriptSource interface {
	Script(ctx context.Context, p domain.VideoParams) (string, error)
}

type TermExtractor interface {
	Terms(ctx context.Context, script string, p domain.VideoParams) ([]string, error)
}

type SpeechRequest struct {
	Text      string
	Voice     string
	Rate      float64
	Volume    float64
	AudioFile string
}

type Speech struct {
	AudioFile string
	Duration  float64 // seconds, rounded up
	Captions  []domain.Caption
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (Speech, error)
}

type SubtitleRequest struct {
	AudioFile    string
	Script       string
	Captions     []domain.Caption
	SubtitleFile string
}

// SubtitleGenerator writes a subtitle file. Empty captions make it derive timing from the audio.
type SubtitleGenerator interface {
	Subtitles(ctx context.Context, req SubtitleRequest) (string, error)
}

type MaterialRequest struct {
	TaskDir     string
	Source      string
	Terms       []string
	Local       []domain.MaterialInfo
	Duration    float64
	ClipSeconds int
	Aspect      domain.VideoAspect
	ConcatMode  domain.ConcatMode
}

type MaterialProvider interface {
	Materials(ctx context.Context, req MaterialRequest) ([]string, error)
}

type CombineRequest struct {
	Output      string
	Clips       []string
	AudioFile   string
	Aspect      domain.VideoAspect
	ConcatMode  domain.ConcatMode
	Transition  domain.TransitionMode
	ClipSeconds int
	Threads     int
}

type CompositeRequest struct {
	Video        string
	AudioFile    string
	SubtitleFile string
	Output       string
	Params       domain.VideoParams
}

type Compositor interface {
	Combine(ctx context.Context, req CombineRequest) error
	Composite(ctx context.Context, req CompositeRequest) error
}

// Workspace owns the per-task directory layout.
type Workspace interface {
	TaskDir(taskID string) (string, error)
	SaveScript(taskID, script string, terms []string, subject string) error
	Remove(taskID string) error
}
