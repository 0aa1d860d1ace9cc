package media

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"shortsq/internal/ports"
)

var _ ports.Workspace = (*Workspace)(nil)

// Workspace lays task artifacts out under <root>/tasks/<task id>.
type Workspace struct {
	Root string
}

func NewWorkspace(root string) *Workspace {
	return &Workspace{Root: root}
}

func (w *Workspace) TasksDir() string {
	return filepath.Join(w.Root, "tasks")
}

func (w *Workspace) path(taskID string) (string, error) {
	if taskID == "" || taskID != filepath.Base(taskID) || taskID == "." || taskID == ".." {
		return "", fmt.Errorf("invalid task id %q", taskID)
	}
	return filepath.Join(w.TasksDir(), taskID), nil
}

func (w *Workspace) TaskDir(taskID string) (string, error) {
	dir, err := w.path(taskID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create task dir: %w", err)
	}
	return dir, nil
}

type scriptSnapshot struct {
	Script  string   `json:"video_script"`
	Terms   []string `json:"video_terms"`
	Subject string   `json:"video_subject"`
}

func (w *Workspace) SaveScript(taskID, script string, terms []string, subject string) error {
	dir, err := w.TaskDir(taskID)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(scriptSnapshot{Script: script, Terms: terms, Subject: subject}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "script.json"), b, 0o644)
}

func (w *Workspace) Remove(taskID string) error {
	dir, err := w.path(taskID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
