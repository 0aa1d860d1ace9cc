package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"shortsq/internal/domain"
	"shortsq/internal/media"
	"shortsq/internal/registry"
	"shortsq/internal/usecase"
)

type submitCall struct {
	requestID string
	params    domain.VideoParams
	stopAt    domain.Stage
}

type fakeSubmitter struct {
	reg   *registry.Memory
	calls []submitCall
	err   error
}

func (f *fakeSubmitter) Submit(ctx context.Context, requestID string, params domain.VideoParams, stopAt domain.Stage) (string, error) {
	if err := params.Normalize(); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, submitCall{requestID, params, stopAt})
	id := fmt.Sprintf("task-%d", len(f.calls))
	if _, err := f.reg.Create(ctx, id, requestID); err != nil {
		return "", err
	}
	return id, nil
}

type fixture struct {
	srv   *Server
	reg   *registry.Memory
	sub   *fakeSubmitter
	ws    *media.Workspace
	songs string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.NewMemory()
	f := &fixture{
		reg:   reg,
		sub:   &fakeSubmitter{reg: reg},
		ws:    media.NewWorkspace(t.TempDir()),
		songs: filepath.Join(t.TempDir(), "songs"),
	}
	f.srv = NewServer(Config{
		Submitter: f.sub,
		Registry:  reg,
		Workspace: f.ws,
		SongDir:   f.songs,
		Endpoint:  "http://cdn.example/",
		Metrics:   prometheus.NewRegistry(),
	})
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, env
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func dataMap(t *testing.T, env envelope) map[string]any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %#v, want object", env.Data)
	}
	return m
}

func TestCreateRoutesStopAtStage(t *testing.T) {
	cases := []struct {
		path string
		want domain.Stage
	}{
		{"/api/v1/videos", domain.StageRender},
		{"/api/v1/subtitle", domain.StageSubtitle},
		{"/api/v1/audio", domain.StageAudio},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			f := newFixture(t)
			req := jsonRequest(http.MethodPost, tc.path, `{"video_subject":"sea","video_script":"Waves."}`)
			req.Header.Set("X-Request-Id", "req-42")

			rec, env := f.do(t, req)
			if rec.Code != http.StatusOK || env.Status != http.StatusOK {
				t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
			}
			data := dataMap(t, env)
			if data["task_id"] != "task-1" || data["request_id"] != "req-42" {
				t.Fatalf("data = %v", data)
			}
			params := data["params"].(map[string]any)
			if params["video_aspect"] != "9:16" {
				t.Fatalf("params not normalized: %v", params)
			}
			if len(f.sub.calls) != 1 || f.sub.calls[0].stopAt != tc.want || f.sub.calls[0].requestID != "req-42" {
				t.Fatalf("submit calls = %+v", f.sub.calls)
			}
		})
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, jsonRequest(http.MethodPost, "/api/v1/videos", `{"video_aspect":"4:3"}`))
	if rec.Code != http.StatusBadRequest || !strings.Contains(env.Message, "video_aspect") {
		t.Fatalf("invalid aspect: %d %q", rec.Code, env.Message)
	}

	rec, _ = f.do(t, jsonRequest(http.MethodPost, "/api/v1/videos", `{not json`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}

	rec, env = f.do(t, jsonRequest(http.MethodPost, "/api/v1/videos", `{"video_terms":42}`))
	if rec.Code != http.StatusBadRequest || !strings.Contains(env.Message, "video_terms") {
		t.Fatalf("bad terms: %d %q", rec.Code, env.Message)
	}
	if len(f.sub.calls) != 0 {
		t.Fatalf("rejected requests reached the submitter: %+v", f.sub.calls)
	}
}

func TestCreateReportsBackendFailure(t *testing.T) {
	f := newFixture(t)
	f.sub.err = fmt.Errorf("%w: queue down", usecase.ErrInfrastructure)

	rec, env := f.do(t, jsonRequest(http.MethodPost, "/api/v1/videos", `{"video_subject":"sea"}`))
	if rec.Code != http.StatusServiceUnavailable || env.Data != nil {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestGetTaskMapsArtifactURLs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.reg.Create(ctx, "abc", "req"); err != nil {
		t.Fatal(err)
	}
	dir, _ := f.ws.TaskDir("abc")
	u := domain.Status(domain.StatusComplete)
	u.Videos = []string{filepath.Join(dir, "final-1.mp4")}
	u.CombinedVideos = []string{filepath.Join(dir, "combined-1.mp4"), "/elsewhere/x.mp4"}
	if _, err := f.reg.Update(ctx, "abc", u); err != nil {
		t.Fatal(err)
	}

	rec, env := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/abc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := dataMap(t, env)
	if data["state"] != "complete" || data["progress"].(float64) != 100 {
		t.Fatalf("task = %v", data)
	}
	videos := data["videos"].([]any)
	if videos[0] != "http://cdn.example/tasks/abc/final-1.mp4" {
		t.Fatalf("videos = %v", videos)
	}
	combined := data["combined_videos"].([]any)
	if combined[0] != "http://cdn.example/tasks/abc/combined-1.mp4" || combined[1] != "/elsewhere/x.mp4" {
		t.Fatalf("combined = %v", combined)
	}

	stored, _ := f.reg.Get(ctx, "abc")
	if stored.Videos[0] != filepath.Join(dir, "final-1.mp4") {
		t.Fatalf("registry record was rewritten: %v", stored.Videos)
	}
}

func TestGetMissingTask(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/nope", nil))
	if rec.Code != http.StatusNotFound || env.Status != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListTasksPages(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 12; i++ {
		if _, err := f.reg.Create(context.Background(), fmt.Sprintf("t%02d", i), ""); err != nil {
			t.Fatal(err)
		}
	}

	_, env := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/tasks?page=2&page_size=5", nil))
	data := dataMap(t, env)
	tasks := data["tasks"].([]any)
	if data["total"].(float64) != 12 || data["page"].(float64) != 2 || data["page_size"].(float64) != 5 || len(tasks) != 5 {
		t.Fatalf("page = %v", data)
	}
	if first := tasks[0].(map[string]any)["task_id"]; first != "t05" {
		t.Fatalf("first task on page 2 = %v", first)
	}

	_, env = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/tasks?page=9", nil))
	data = dataMap(t, env)
	if tasks := data["tasks"].([]any); len(tasks) != 0 || data["page_size"].(float64) != defaultPageSize {
		t.Fatalf("out of range page = %v", data)
	}
}

func TestDeleteTaskRemovesFiles(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.Create(context.Background(), "abc", ""); err != nil {
		t.Fatal(err)
	}
	dir, _ := f.ws.TaskDir("abc")
	if err := os.WriteFile(filepath.Join(dir, "audio.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, _ := f.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/tasks/abc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("task dir still present: %v", err)
	}
	if _, err := f.reg.Get(context.Background(), "abc"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("task still registered: %v", err)
	}

	rec, _ = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/tasks/abc", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}

func uploadRequest(t *testing.T, name, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.WriteString(part, content)
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/musics", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestMusicUploadAndList(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, uploadRequest(t, "notes.txt", "nope"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non mp3 upload status = %d", rec.Code)
	}

	rec, _ = f.do(t, uploadRequest(t, "calm.mp3", "ID3data"))
	if rec.Code != http.StatusOK {
		t.Fatalf("mp3 upload status = %d (%s)", rec.Code, rec.Body.String())
	}

	_, env := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/musics", nil))
	files := dataMap(t, env)["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("files = %v", files)
	}
	file := files[0].(map[string]any)
	if file["name"] != "calm.mp3" || file["size"].(float64) != 7 || file["file"] != filepath.Join(f.songs, "calm.mp3") {
		t.Fatalf("file = %v", file)
	}
}

func TestStreamSupportsRanges(t *testing.T) {
	f := newFixture(t)
	dir, _ := f.ws.TaskDir("abc")
	if err := os.WriteFile(filepath.Join(dir, "final-1.mp4"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/abc/final-1.mp4", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec, _ := f.do(t, req)
	if rec.Code != http.StatusPartialContent || rec.Body.String() != "2345" {
		t.Fatalf("range response = %d %q", rec.Code, rec.Body.String())
	}

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/download/abc/final-1.mp4", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Disposition"), "final-1.mp4") {
		t.Fatalf("download = %d %v", rec.Code, rec.Header())
	}

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/stream/abc/missing.mp4", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing file status = %d", rec.Code)
	}

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/tasks/abc/final-1.mp4", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "0123456789" {
		t.Fatalf("static file = %d %q", rec.Code, rec.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || dataMap(t, env)["status"] != "up" {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}

func TestPreflight(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, httptest.NewRequest(http.MethodOptions, "/api/v1/videos", nil))
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}
}
