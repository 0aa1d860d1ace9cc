package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

type VideoAspect string

const (
	AspectLandscape VideoAspect = "16:9"
	AspectPortrait  VideoAspect = "9:16"
	AspectSquare    VideoAspect = "1:1"
)

// Resolution returns the output frame size for the aspect.
func (a VideoAspect) Resolution() (width, height int) {
	switch a {
	case AspectLandscape:
		return 1920, 1080
	case AspectSquare:
		return 1080, 1080
	default:
		return 1080, 1920
	}
}

type ConcatMode string

const (
	ConcatRandom     ConcatMode = "random"
	ConcatSequential ConcatMode = "sequential"
)

type TransitionMode string

const (
	TransitionNone    TransitionMode = ""
	TransitionFadeIn  TransitionMode = "FadeIn"
	TransitionFadeOut TransitionMode = "FadeOut"
)

const (
	SourceLocal  = "local"
	SourcePexels = "pexels"
)

type MaterialInfo struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
	Duration int    `json:"duration"`
}

// Terms accepts either a JSON list or a comma separated string.
// A long multi-line string is treated as a pasted script rather than keywords and yields no terms.
type Terms []string

var termSeparators = regexp.MustCompile(`[,，]`)

func (t *Terms) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = cleanTerms(list)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return &ValidationError{Field: "video_terms", Message: "must be a string or a list of strings"}
	}
	if len(s) > 100 && strings.Contains(s, "\n") {
		*t = nil
		return nil
	}
	*t = cleanTerms(termSeparators.Split(s, -1))
	return nil
}

func cleanTerms(in []string) Terms {
	var out Terms
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// VideoParams are the caller supplied options of one generation job.
type VideoParams struct {
	VideoSubject        string         `json:"video_subject"`
	VideoScript         string         `json:"video_script"`
	VideoLanguage       string         `json:"video_language,omitempty"`
	VideoTerms          Terms          `json:"video_terms,omitempty"`
	OriginalFilename    string         `json:"original_filename,omitempty"`
	VideoAspect         VideoAspect    `json:"video_aspect"`
	VideoConcatMode     ConcatMode     `json:"video_concat_mode"`
	VideoTransitionMode TransitionMode `json:"video_transition_mode,omitempty"`
	VideoClipDuration   int            `json:"video_clip_duration"`
	VideoCount          int            `json:"video_count"`
	VideoSource         string         `json:"video_source"`
	VideoMaterials      []MaterialInfo `json:"video_materials,omitempty"`

	VoiceName   string  `json:"voice_name"`
	VoiceVolume float64 `json:"voice_volume"`
	VoiceRate   float64 `json:"voice_rate"`

	BgmType   string  `json:"bgm_type"`
	BgmFile   string  `json:"bgm_file,omitempty"`
	BgmVolume float64 `json:"bgm_volume"`

	SubtitleEnabled  *bool   `json:"subtitle_enabled"`
	SubtitlePosition string  `json:"subtitle_position"`
	CustomPosition   float64 `json:"custom_position"`
	FontName         string  `json:"font_name"`
	TextForeColor    string  `json:"text_fore_color"`
	TextBgColor      string  `json:"text_background_color,omitempty"`
	FontSize         int     `json:"font_size"`
	StrokeColor      string  `json:"stroke_color"`
	StrokeWidth      float64 `json:"stroke_width"`

	NThreads        int `json:"n_threads"`
	ParagraphNumber int `json:"paragraph_number"`
}

func (p VideoParams) SubtitlesOn() bool {
	return p.SubtitleEnabled == nil || *p.SubtitleEnabled
}

const maxVideoCount = 10

// Normalize fills defaults and validates the parameters in place.
func (p *VideoParams) Normalize() error {
	p.VideoScript = strings.TrimSpace(p.VideoScript)
	p.VideoSource = strings.ToLower(strings.TrimSpace(p.VideoSource))

	if p.VideoAspect == "" {
		p.VideoAspect = AspectPortrait
	}
	if p.VideoConcatMode == "" {
		p.VideoConcatMode = ConcatRandom
	}
	if p.VideoClipDuration == 0 {
		p.VideoClipDuration = 5
	}
	if p.VideoCount == 0 {
		p.VideoCount = 1
	}
	if p.VideoSource == "" {
		p.VideoSource = SourceLocal
	}
	if p.VoiceName == "" {
		p.VoiceName = "zh-CN-XiaoxiaoNeural-Female"
	}
	if p.VoiceVolume == 0 {
		p.VoiceVolume = 1.0
	}
	if p.VoiceRate == 0 {
		p.VoiceRate = 1.2
	}
	if p.BgmType == "" && p.BgmFile == "" {
		p.BgmType = "random"
	}
	if p.BgmVolume == 0 {
		p.BgmVolume = 0.2
	}
	if p.SubtitlePosition == "" {
		p.SubtitlePosition = "bottom"
	}
	if p.CustomPosition == 0 {
		p.CustomPosition = 70
	}
	if p.FontName == "" {
		p.FontName = "STHeitiMedium.ttc"
	}
	if p.TextForeColor == "" {
		p.TextForeColor = "#FFFFFF"
	}
	if p.FontSize == 0 {
		p.FontSize = 60
	}
	if p.StrokeColor == "" {
		p.StrokeColor = "#000000"
	}
	if p.StrokeWidth == 0 {
		p.StrokeWidth = 1.5
	}
	if p.NThreads == 0 {
		p.NThreads = 2
	}
	if p.ParagraphNumber == 0 {
		p.ParagraphNumber = 1
	}

	switch p.VideoAspect {
	case AspectLandscape, AspectPortrait, AspectSquare:
	default:
		return &ValidationError{Field: "video_aspect", Message: fmt.Sprintf("unsupported aspect %q", p.VideoAspect)}
	}
	switch p.VideoConcatMode {
	case ConcatRandom, ConcatSequential:
	default:
		return &ValidationError{Field: "video_concat_mode", Message: fmt.Sprintf("unsupported mode %q", p.VideoConcatMode)}
	}
	switch p.VideoTransitionMode {
	case TransitionNone, TransitionFadeIn, TransitionFadeOut:
	default:
		return &ValidationError{Field: "video_transition_mode", Message: fmt.Sprintf("unsupported mode %q", p.VideoTransitionMode)}
	}
	switch p.VideoSource {
	case SourceLocal, SourcePexels:
	default:
		return &ValidationError{Field: "video_source", Message: fmt.Sprintf("unsupported source %q", p.VideoSource)}
	}
	switch p.SubtitlePosition {
	case "top", "bottom", "center", "custom":
	default:
		return &ValidationError{Field: "subtitle_position", Message: fmt.Sprintf("unsupported position %q", p.SubtitlePosition)}
	}
	if p.VideoClipDuration < 1 {
		return &ValidationError{Field: "video_clip_duration", Message: "must be at least 1 second"}
	}
	if p.VideoCount < 1 || p.VideoCount > maxVideoCount {
		return &ValidationError{Field: "video_count", Message: fmt.Sprintf("must be between 1 and %d", maxVideoCount)}
	}
	if p.VoiceRate < 0 || p.VoiceVolume < 0 || p.BgmVolume < 0 {
		return &ValidationError{Field: "voice_rate", Message: "rates and volumes must not be negative"}
	}
	if p.CustomPosition < 0 || p.CustomPosition > 100 {
		return &ValidationError{Field: "custom_position", Message: "must be between 0 and 100"}
	}
	if p.FontSize < 1 || p.NThreads < 1 {
		return &ValidationError{Field: "font_size", Message: "font size and thread count must be positive"}
	}
	return nil
}

// ToMap renders the parameters as a plain key-value map for queue transport.
func (p VideoParams) ToMap() (map[string]any, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func ParamsFromMap(m map[string]any) (VideoParams, error) {
	var p VideoParams
	b, err := json.Marshal(m)
	if err != nil {
		return p, err
	}
	err = json.Unmarshal(b, &p)
	return p, err
}
