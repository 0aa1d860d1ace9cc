package domain

import "time"

// Caption is one timed piece of narration text produced by speech synthesis.
type Caption struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}
