package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"shortsq/internal/ports"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true}

// LocalMaterials validates caller supplied clips and turns still images into
// short zooming videos.
type LocalMaterials struct {
	FFmpegPath    string
	Runner        Runner
	Prober        Prober
	MinResolution int
	Workers       int
}

func (l *LocalMaterials) Materials(ctx context.Context, req ports.MaterialRequest) ([]string, error) {
	results := make([]string, len(req.Local))
	forEach(ctx, l.Workers, len(req.Local), func(i int) {
		results[i] = l.prepare(ctx, req.Local[i].URL, req.ClipSeconds)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []string
	for _, r := range results {
		if r != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

// prepare returns the usable path for one material, or "" when it is rejected.
func (l *LocalMaterials) prepare(ctx context.Context, path string, clipSeconds int) string {
	if path == "" {
		return ""
	}
	logger := log.Ctx(ctx).With().Str("material", path).Logger()

	pr, err := l.Prober.Probe(ctx, path)
	if err != nil {
		logger.Error().Err(err).Msg("cannot read material dimensions")
		return ""
	}
	if pr.Width < l.MinResolution || pr.Height < l.MinResolution {
		logger.Warn().Int("width", pr.Width).Int("height", pr.Height).Int("min", l.MinResolution).Msg("material resolution too low")
		return ""
	}
	if !imageExts[strings.ToLower(filepath.Ext(path))] {
		return path
	}

	out := path + ".mp4"
	frames := max(clipSeconds, 1) * 25
	_, err = l.Runner.Run(ctx, l.FFmpegPath, "-y", "-hide_banner", "-loglevel", "error",
		"-loop", "1", "-i", path,
		"-vf", fmt.Sprintf("zoompan=z='min(zoom+0.0015,1.2)':d=%d:s=%dx%d:fps=25", frames, pr.Width, pr.Height),
		"-t", fmt.Sprint(max(clipSeconds, 1)),
		"-c:v", "libx264", "-pix_fmt", "yuv420p", out)
	if err != nil {
		logger.Error().Err(err).Msg("failed to turn image into clip")
		return ""
	}
	logger.Info().Str("clip", out).Msg("image converted")
	return out
}
