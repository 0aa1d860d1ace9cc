package domain

import (
	"fmt"
	"strings"
)

// Stage is one step of the generation pipeline. Stages are totally ordered.
type Stage int

const (
	StageScript Stage = iota + 1
	StageTerms
	StageAudio
	StageSubtitle
	StageMaterials
	StageRender
)

var stageNames = map[Stage]string{
	StageScript:    "script",
	StageTerms:     "terms",
	StageAudio:     "audio",
	StageSubtitle:  "subtitle",
	StageMaterials: "materials",
	StageRender:    "render",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStage resolves a stop marker. An empty marker and "video" both mean the full pipeline.
func ParseStage(name string) (Stage, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "video":
		return StageRender, nil
	}
	for s, n := range stageNames {
		if n == name {
			return s, nil
		}
	}
	return 0, &ValidationError{Field: "stop_at", Message: fmt.Sprintf("unknown stage %q", name)}
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	v, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
