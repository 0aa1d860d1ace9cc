package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"shortsq/internal/domain"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxUploadBytes  = 64 << 20
)

type createTaskResponse struct {
	TaskID    string             `json:"task_id"`
	RequestID string             `json:"request_id"`
	Params    domain.VideoParams `json:"params"`
}

type taskListResponse struct {
	Tasks    []domain.Task `json:"tasks"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

type musicFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	File string `json:"file"`
}

func (s *Server) create(stopAt domain.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params domain.VideoParams
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&params); err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				fail(w, http.StatusBadRequest, verr.Error())
				return
			}
			fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		requestID := middleware.GetReqID(r.Context())
		id, err := s.cfg.Submitter.Submit(r.Context(), requestID, params, stopAt)
		if err != nil {
			writeError(w, r, err)
			return
		}
		// Submit normalized its own copy; echo the defaults the job runs with.
		_ = params.Normalize()
		ok(w, createTaskResponse{TaskID: id, RequestID: requestID, Params: params})
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	size := min(queryInt(r, "page_size", defaultPageSize), maxPageSize)

	tasks, total, err := s.cfg.Registry.List(r.Context(), page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	base := s.endpoint(r)
	for i := range tasks {
		tasks[i] = s.withURLs(base, tasks[i])
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	ok(w, taskListResponse{Tasks: tasks, Total: total, Page: page, PageSize: size})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.cfg.Registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, s.withURLs(s.endpoint(r), task))
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.cfg.Registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.cfg.Workspace.Remove(id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.cfg.Registry.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	log.Ctx(r.Context()).Info().Str("task_id", id).Str("state", string(task.Status)).Msg("task deleted")
	ok(w, task)
}

func (s *Server) listMusics(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.cfg.SongDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		writeError(w, r, err)
		return
	}
	files := []musicFile{}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".mp3") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, musicFile{Name: e.Name(), Size: info.Size(), File: filepath.Join(s.cfg.SongDir, e.Name())})
	}
	ok(w, map[string]any{"files": files})
}

func (s *Server) uploadMusic(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		fail(w, http.StatusBadRequest, "missing file: "+err.Error())
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".mp3") || name == ".mp3" {
		fail(w, http.StatusBadRequest, "only mp3 files can be uploaded")
		return
	}
	if err := os.MkdirAll(s.cfg.SongDir, 0o755); err != nil {
		writeError(w, r, err)
		return
	}

	dst := filepath.Join(s.cfg.SongDir, name)
	out, err := os.Create(dst)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		_ = os.Remove(dst)
		writeError(w, r, err)
		return
	}
	if err := out.Close(); err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, map[string]string{"file": dst})
}

// serveFile serves a file below the tasks directory with range support.
func (s *Server) serveFile(attachment bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel := path.Clean("/" + chi.URLParam(r, "*"))
		if rel == "/" {
			fail(w, http.StatusNotFound, "file not found")
			return
		}
		full := filepath.Join(s.cfg.Workspace.TasksDir(), filepath.FromSlash(rel))

		f, err := os.Open(full)
		if err != nil {
			fail(w, http.StatusNotFound, "file not found")
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil || info.IsDir() {
			fail(w, http.StatusNotFound, "file not found")
			return
		}

		if attachment {
			w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(full)+`"`)
		}
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	}
}

func (s *Server) endpoint(r *http.Request) string {
	if s.cfg.Endpoint != "" {
		return strings.TrimRight(s.cfg.Endpoint, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// withURLs rewrites artifact paths under the tasks directory into public URLs.
func (s *Server) withURLs(base string, t domain.Task) domain.Task {
	t.Videos = s.toURLs(base, t.Videos)
	t.CombinedVideos = s.toURLs(base, t.CombinedVideos)
	return t
}

func (s *Server) toURLs(base string, files []string) []string {
	if len(files) == 0 {
		return files
	}
	root := s.cfg.Workspace.TasksDir()
	out := make([]string, len(files))
	for i, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil || strings.HasPrefix(rel, "..") {
			out[i] = f
			continue
		}
		out[i] = base + "/tasks/" + filepath.ToSlash(rel)
	}
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 1 {
		return def
	}
	return n
}
