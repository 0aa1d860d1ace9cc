package media

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"shortsq/internal/domain"
	"shortsq/internal/ports"
)

var _ ports.Compositor = (*FFmpeg)(nil)

var ErrNoClips = errors.New("no usable clips to combine")

// FFmpeg combines clips into a narration length timeline and burns in
// subtitles and background music.
type FFmpeg struct {
	Path    string
	Runner  Runner
	Prober  Prober
	SongDir string
	FontDir string
	Workers int
}

type segment struct {
	file       string
	start, end float64
	width      int
	height     int
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	base := []string{"-y", "-hide_banner", "-loglevel", "error"}
	_, err := f.Runner.Run(ctx, f.Path, append(base, args...)...)
	return err
}

// segments cuts every clip into pieces of at most clipSeconds. Sequential
// mode only takes the head of each clip.
func (f *FFmpeg) segments(ctx context.Context, clips []string, clipSeconds float64, mode domain.ConcatMode) []segment {
	var out []segment
	for _, c := range clips {
		pr, err := f.Prober.Probe(ctx, c)
		if err != nil || !pr.HasVideo {
			log.Ctx(ctx).Error().Err(err).Str("clip", c).Msg("skipping unreadable clip")
			continue
		}
		for start := 0.0; start < pr.Duration; {
			end := min(start+clipSeconds, pr.Duration)
			if pr.Duration-start >= 1 {
				out = append(out, segment{file: c, start: start, end: end, width: pr.Width, height: pr.Height})
			}
			start = end
			if mode == domain.ConcatSequential {
				break
			}
		}
	}
	if mode == domain.ConcatRandom {
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

func transitionFilter(t domain.TransitionMode, d float64) string {
	switch t {
	case domain.TransitionFadeIn:
		return "fade=t=in:st=0:d=1"
	case domain.TransitionFadeOut:
		return fmt.Sprintf("fade=t=out:st=%s:d=1", ftoa(max(d-1, 0)))
	default:
		return ""
	}
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }

func (f *FFmpeg) Combine(ctx context.Context, req ports.CombineRequest) error {
	audio, err := f.Prober.Probe(ctx, req.AudioFile)
	if err != nil {
		return err
	}
	clipSeconds := float64(max(req.ClipSeconds, 1))
	segs := f.segments(ctx, req.Clips, clipSeconds, req.ConcatMode)

	var picked []segment
	for total := 0.0; len(picked) < len(segs) && total < audio.Duration; {
		s := segs[len(picked)]
		picked = append(picked, s)
		total += min(s.end-s.start, clipSeconds)
	}
	if len(picked) == 0 {
		return ErrNoClips
	}

	dir := filepath.Dir(req.Output)
	stem := strings.TrimSuffix(filepath.Base(req.Output), filepath.Ext(req.Output))
	w, h := req.Aspect.Resolution()
	threads := strconv.Itoa(max(req.Threads, 1))

	parts := make([]string, len(picked))
	forEach(ctx, f.Workers, len(picked), func(i int) {
		s := picked[i]
		out := filepath.Join(dir, fmt.Sprintf("%s-part-%d.mp4", stem, i))
		dur := min(s.end-s.start, clipSeconds)
		vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=30", w, h, w, h)
		if tf := transitionFilter(req.Transition, dur); tf != "" {
			vf += "," + tf
		}
		err := f.run(ctx, "-ss", ftoa(s.start), "-i", s.file, "-t", ftoa(dur),
			"-vf", vf, "-an", "-c:v", "libx264", "-preset", "ultrafast", "-threads", threads, out)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("clip", s.file).Msg("failed to prepare segment")
			return
		}
		parts[i] = out
	})
	defer removeFiles(parts...)

	var ready []string
	for _, p := range parts {
		if p != "" {
			ready = append(ready, p)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ready) == 0 {
		return ErrNoClips
	}

	video := ready[0]
	if len(ready) > 1 {
		list := filepath.Join(dir, stem+"-concat.txt")
		var b strings.Builder
		for _, p := range ready {
			fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
		}
		if err := os.WriteFile(list, []byte(b.String()), 0o644); err != nil {
			return err
		}
		defer removeFiles(list)

		video = filepath.Join(dir, stem+"-concat.mp4")
		if err := f.run(ctx, "-f", "concat", "-safe", "0", "-i", list, "-c", "copy", video); err != nil {
			return fmt.Errorf("concatenate segments: %w", err)
		}
		defer removeFiles(video)
	}

	err = f.run(ctx, "-i", video, "-i", req.AudioFile,
		"-map", "0:v", "-map", "1:a", "-c:v", "copy", "-c:a", "aac", "-shortest", req.Output)
	if err != nil {
		return fmt.Errorf("add narration: %w", err)
	}
	return nil
}

func (f *FFmpeg) Composite(ctx context.Context, req ports.CompositeRequest) error {
	p := req.Params
	w, h := p.VideoAspect.Resolution()

	args := []string{"-i", req.Video, "-i", req.AudioFile}
	bgm := f.backgroundMusic(p)
	if bgm != "" {
		args = append(args, "-stream_loop", "-1", "-i", bgm)
	}

	var filters []string
	video := "0:v"
	if req.SubtitleFile != "" && p.SubtitlesOn() {
		filters = append(filters, fmt.Sprintf("[0:v]%s[v]", f.subtitleFilter(req.SubtitleFile, p, h)))
		video = "[v]"
	}
	if bgm != "" {
		filters = append(filters,
			fmt.Sprintf("[1:a]volume=%s[voice]", ftoa(p.VoiceVolume)),
			fmt.Sprintf("[2:a]volume=%s[bgm]", ftoa(p.BgmVolume)),
			"[voice][bgm]amix=inputs=2:duration=first:dropout_transition=2[a]")
	} else {
		filters = append(filters, fmt.Sprintf("[1:a]volume=%s[a]", ftoa(p.VoiceVolume)))
	}

	args = append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", video, "-map", "[a]",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-c:v", "libx264", "-preset", "medium", "-c:a", "aac", "-b:a", "192k",
		"-threads", strconv.Itoa(max(p.NThreads, 1)),
		"-shortest", req.Output)

	log.Ctx(ctx).Info().Str("video", req.Video).Str("subtitle", req.SubtitleFile).Str("bgm", bgm).Str("output", req.Output).Msg("compositing video")
	if err := f.run(ctx, args...); err != nil {
		return fmt.Errorf("composite video: %w", err)
	}
	return nil
}

// backgroundMusic picks the explicit file when it exists, or a random song.
func (f *FFmpeg) backgroundMusic(p domain.VideoParams) string {
	if p.BgmFile != "" {
		if _, err := os.Stat(p.BgmFile); err == nil {
			return p.BgmFile
		}
	}
	if p.BgmType != "random" || f.SongDir == "" {
		return ""
	}
	songs, _ := filepath.Glob(filepath.Join(f.SongDir, "*.mp3"))
	if len(songs) == 0 {
		return ""
	}
	sort.Strings(songs)
	return songs[rand.IntN(len(songs))]
}

func (f *FFmpeg) subtitleFilter(file string, p domain.VideoParams, height int) string {
	alignment, margin := 2, 30
	switch p.SubtitlePosition {
	case "top":
		alignment = 8
	case "center":
		alignment, margin = 5, 0
	case "custom":
		margin = int(float64(height) * (100 - p.CustomPosition) / 100)
	}
	font := strings.TrimSuffix(p.FontName, filepath.Ext(p.FontName))
	style := fmt.Sprintf("FontName=%s,FontSize=%d,PrimaryColour=%s,OutlineColour=%s,BorderStyle=1,Outline=%s,Alignment=%d,MarginV=%d",
		font, max(p.FontSize/3, 8), assColor(p.TextForeColor), assColor(p.StrokeColor), ftoa(min(p.StrokeWidth, 2)), alignment, margin)

	filter := "subtitles=" + escapeFilterPath(file)
	if f.FontDir != "" {
		filter += ":fontsdir=" + escapeFilterPath(f.FontDir)
	}
	return filter + ":force_style='" + style + "'"
}

// assColor converts #RRGGBB to the &HBBGGRR form subtitle styles use.
func assColor(hex string) string {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return "&H00FFFFFF"
	}
	return "&H00" + strings.ToUpper(hex[4:6]+hex[2:4]+hex[0:2])
}

func escapeFilterPath(p string) string {
	p = filepath.ToSlash(p)
	p = strings.ReplaceAll(p, `:`, `\:`)
	return strings.ReplaceAll(p, `'`, `\'`)
}

func removeFiles(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", p).Msg("failed to remove temp file")
		}
	}
}
