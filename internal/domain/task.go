package domain

import "time"

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusComplete   TaskStatus = "complete"
	StatusFailed     TaskStatus = "failed"
)

// rank orders statuses along the only allowed direction of travel.
func (s TaskStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusComplete, StatusFailed:
		return 2
	default:
		return -1
	}
}

func (s TaskStatus) Valid() bool { return s.rank() >= 0 }

func (s TaskStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// MaxProcessingProgress is the highest progress a task may report before it completes.
const MaxProcessingProgress = 99

type Task struct {
	ID             string     `json:"task_id"`
	RequestID      string     `json:"request_id,omitempty"`
	Status         TaskStatus `json:"state"`
	Progress       float64    `json:"progress"`
	Script         string     `json:"script,omitempty"`
	Terms          []string   `json:"terms,omitempty"`
	AudioFile      string     `json:"audio_file,omitempty"`
	AudioDuration  float64    `json:"audio_duration,omitempty"`
	SubtitlePath   string     `json:"subtitle_path,omitempty"`
	Materials      []string   `json:"materials,omitempty"`
	Videos         []string   `json:"videos,omitempty"`
	CombinedVideos []string   `json:"combined_videos,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func NewTask(id, requestID string, now time.Time) Task {
	return Task{
		ID:        id,
		RequestID: requestID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TaskUpdate is a partial update: nil fields leave the stored value untouched.
type TaskUpdate struct {
	Status         *TaskStatus
	Progress       *float64
	Script         *string
	Terms          []string
	AudioFile      *string
	AudioDuration  *float64
	SubtitlePath   *string
	Materials      []string
	Videos         []string
	CombinedVideos []string
}

func Progress(p float64) TaskUpdate {
	return TaskUpdate{Progress: &p}
}

func Status(s TaskStatus) TaskUpdate {
	return TaskUpdate{Status: &s}
}

// Apply merges u into t, enforcing the task lifecycle:
// statuses only move forward, terminal tasks are frozen, progress never
// decreases and reaches 100 only together with StatusComplete.
func (t *Task) Apply(u TaskUpdate, now time.Time) error {
	if t.Status.Terminal() {
		return ErrTaskFinalized
	}

	next := t.Status
	if u.Status != nil {
		if !u.Status.Valid() {
			return ErrInvalidTransition
		}
		if u.Status.rank() < t.Status.rank() {
			return ErrInvalidTransition
		}
		next = *u.Status
	}
	if next == StatusPending && u.Progress != nil {
		next = StatusProcessing
	}

	progress := t.Progress
	if u.Progress != nil && *u.Progress > progress {
		progress = *u.Progress
	}
	switch next {
	case StatusComplete:
		progress = 100
	case StatusProcessing, StatusPending:
		progress = min(progress, MaxProcessingProgress)
	}

	t.Status = next
	t.Progress = progress
	if u.Script != nil {
		t.Script = *u.Script
	}
	if u.Terms != nil {
		t.Terms = append([]string(nil), u.Terms...)
	}
	if u.AudioFile != nil {
		t.AudioFile = *u.AudioFile
	}
	if u.AudioDuration != nil {
		t.AudioDuration = *u.AudioDuration
	}
	if u.SubtitlePath != nil {
		t.SubtitlePath = *u.SubtitlePath
	}
	if u.Materials != nil {
		t.Materials = append([]string(nil), u.Materials...)
	}
	if u.Videos != nil {
		t.Videos = append([]string(nil), u.Videos...)
	}
	if u.CombinedVideos != nil {
		t.CombinedVideos = append([]string(nil), u.CombinedVideos...)
	}
	t.UpdatedAt = now
	return nil
}

// Clone returns a copy that shares no slices with t.
func (t Task) Clone() Task {
	c := t
	c.Terms = append([]string(nil), t.Terms...)
	c.Materials = append([]string(nil), t.Materials...)
	c.Videos = append([]string(nil), t.Videos...)
	c.CombinedVideos = append([]string(nil), t.CombinedVideos...)
	return c
}
