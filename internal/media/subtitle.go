package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"shortsq/internal/domain"
	"shortsq/internal/ports"
)

var _ ports.SubtitleGenerator = (*Subtitles)(nil)

const (
	SubtitleProviderEdge    = "edge"
	SubtitleProviderWhisper = "whisper"
)

var ErrNoSubtitles = errors.New("subtitle file has no cues")

// Subtitles writes SRT files from synthesis captions. When captions are
// missing, or the provider is whisper, timing comes from transcribing the
// audio and the transcript text is reconciled against the script.
type Subtitles struct {
	Provider     string
	WhisperPath  string
	WhisperModel string
	Runner       Runner
}

func (s *Subtitles) Subtitles(ctx context.Context, req ports.SubtitleRequest) (string, error) {
	provider := strings.ToLower(strings.TrimSpace(s.Provider))
	if provider == "" {
		provider = SubtitleProviderEdge
	}
	log.Ctx(ctx).Info().Str("provider", provider).Msg("generating subtitles")

	var cues []domain.Caption
	if provider == SubtitleProviderEdge && len(req.Captions) > 0 {
		cues = alignCaptions(req.Captions, splitSentences(req.Script))
	}
	if len(cues) == 0 {
		if provider == SubtitleProviderEdge {
			log.Ctx(ctx).Warn().Msg("no caption timing from synthesis, falling back to transcription")
		}
		transcribed, err := s.transcribe(ctx, req.AudioFile, req.SubtitleFile)
		if err != nil {
			return "", err
		}
		cues = correctCues(transcribed, splitSentences(req.Script))
	}
	if len(cues) == 0 {
		return "", ErrNoSubtitles
	}

	if err := os.WriteFile(req.SubtitleFile, []byte(FormatSRT(cues)), 0o644); err != nil {
		return "", fmt.Errorf("write subtitles: %w", err)
	}
	return req.SubtitleFile, nil
}

// transcribe runs whisper on the audio and returns the cues it wrote.
func (s *Subtitles) transcribe(ctx context.Context, audio, target string) ([]domain.Caption, error) {
	dir := filepath.Dir(target)
	_, err := s.Runner.Run(ctx, s.WhisperPath, audio,
		"--model", s.WhisperModel,
		"--output_format", "srt",
		"--output_dir", dir,
	)
	if err != nil {
		return nil, fmt.Errorf("transcribe audio: %w", err)
	}
	out := filepath.Join(dir, strings.TrimSuffix(filepath.Base(audio), filepath.Ext(audio))+".srt")
	cues, err := readCues(out)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if out != target {
		_ = os.Remove(out)
	}
	return cues, nil
}

// alignCaptions merges word level captions into one cue per script sentence.
// It returns the raw captions when the words cannot be matched to the script.
func alignCaptions(captions []domain.Caption, sentences []string) []domain.Caption {
	if len(sentences) == 0 {
		return captions
	}
	var (
		out  []domain.Caption
		si   int
		acc  strings.Builder
		from = -1
	)
	for i, c := range captions {
		if si >= len(sentences) {
			return captions
		}
		if from < 0 {
			from = i
		}
		acc.WriteString(normalizeText(c.Text))
		want := normalizeText(sentences[si])
		if acc.Len() >= len(want) {
			if acc.String() != want {
				return captions
			}
			out = append(out, domain.Caption{Start: captions[from].Start, End: c.End, Text: sentences[si]})
			si++
			acc.Reset()
			from = -1
		}
	}
	if from >= 0 || si != len(sentences) {
		return captions
	}
	return out
}

// correctCues replaces transcribed text with the script's sentences when the
// transcript split the audio into the same number of lines.
func correctCues(cues []domain.Caption, sentences []string) []domain.Caption {
	if len(cues) == 0 || len(cues) != len(sentences) {
		return cues
	}
	out := make([]domain.Caption, len(cues))
	for i, c := range cues {
		c.Text = sentences[i]
		out[i] = c
	}
	return out
}
