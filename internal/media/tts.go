package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"shortsq/internal/ports"
)

var _ ports.SpeechSynthesizer = (*EdgeTTS)(nil)

// EdgeTTS synthesizes narration with the edge-tts command line tool and
// reads the word boundary captions it writes next to the audio.
type EdgeTTS struct {
	Path   string
	Runner Runner
	Prober Prober
}

func (e *EdgeTTS) Synthesize(ctx context.Context, req ports.SpeechRequest) (ports.Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return ports.Speech{}, fmt.Errorf("synthesize: empty text")
	}
	captionFile := req.AudioFile + ".vtt"
	args := []string{
		"--voice", VoiceName(req.Voice),
		"--rate", percentDelta(req.Rate),
		"--volume", percentDelta(req.Volume),
		"--text", req.Text,
		"--write-media", req.AudioFile,
		"--write-subtitles", captionFile,
	}
	if _, err := e.Runner.Run(ctx, e.Path, args...); err != nil {
		return ports.Speech{}, fmt.Errorf("synthesize speech: %w", err)
	}
	if fi, err := os.Stat(req.AudioFile); err != nil || fi.Size() == 0 {
		return ports.Speech{}, fmt.Errorf("synthesize speech: no audio written to %s", req.AudioFile)
	}

	speech := ports.Speech{AudioFile: req.AudioFile}
	if captions, err := readCues(captionFile); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("speech synthesis produced no caption timing")
	} else {
		speech.Captions = captions
	}

	if n := len(speech.Captions); n > 0 {
		speech.Duration = speech.Captions[n-1].End.Seconds()
	} else {
		pr, err := e.Prober.Probe(ctx, req.AudioFile)
		if err != nil {
			return ports.Speech{}, err
		}
		speech.Duration = pr.Duration
	}
	speech.Duration = math.Ceil(speech.Duration)
	return speech, nil
}

// VoiceName strips the gender suffix from names like "en-US-JennyNeural-Female".
func VoiceName(name string) string {
	name = strings.TrimSpace(name)
	for _, suffix := range []string{"-Female", "-Male"} {
		name = strings.TrimSuffix(name, suffix)
	}
	return name
}

// percentDelta turns a multiplier (1.2) into the signed percentage edge-tts expects (+20%).
func percentDelta(mult float64) string {
	if mult <= 0 {
		mult = 1
	}
	pct := int(math.Round((mult - 1) * 100))
	if pct >= 0 {
		return fmt.Sprintf("+%d%%", pct)
	}
	return fmt.Sprintf("%d%%", pct)
}
