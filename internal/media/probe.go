package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Probe is the subset of ffprobe output the media stages read.
type Probe struct {
	Duration float64
	Width    int
	Height   int
	HasVideo bool
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Prober runs ffprobe against media files.
type Prober struct {
	Path   string
	Runner Runner
}

func (p Prober) Probe(ctx context.Context, file string) (Probe, error) {
	res, err := p.Runner.Run(ctx, p.Path,
		"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", file)
	if err != nil {
		return Probe{}, fmt.Errorf("probe %s: %w", file, err)
	}
	return parseProbe(res.Stdout)
}

func parseProbe(out string) (Probe, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return Probe{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	var pr Probe
	if raw.Format.Duration != "" {
		d, err := strconv.ParseFloat(raw.Format.Duration, 64)
		if err != nil {
			return Probe{}, fmt.Errorf("parse duration %q: %w", raw.Format.Duration, err)
		}
		pr.Duration = d
	}
	for _, s := range raw.Streams {
		if s.CodecType == "video" {
			pr.Width, pr.Height, pr.HasVideo = s.Width, s.Height, true
			break
		}
	}
	return pr, nil
}
