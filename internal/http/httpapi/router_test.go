package httpapi

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"renderstudio/internal/dispatch"
	"renderstudio/internal/domain"
	"renderstudio/internal/http/handlers"
	"renderstudio/internal/jobs"
	"renderstudio/internal/planner"
	"renderstudio/internal/presets"
	"renderstudio/internal/renderer"
	"renderstudio/internal/safety"
	"renderstudio/internal/storage"
)

type stack struct {
	files    *storage.FileStore
	renderer *httptest.Server
	planner  *httptest.Server
}

// newStack runs both routers over one outputs root, the way the two binaries
// share a volume.
func newStack(t *testing.T) *stack {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	records := jobs.NewRecordStore(files)
	logger := zerolog.Nop()

	h, err := renderer.NewHandler(renderer.Options{Records: records, Logger: logger})
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	rendererSrv := httptest.NewServer(NewRendererRouter(handlers.NewRenderer(h, logger), nil, logger))
	t.Cleanup(rendererSrv.Close)

	client, err := dispatch.NewClient(dispatch.Options{BaseURL: rendererSrv.URL, Timeout: 5 * time.Second, Logger: logger})
	if err != nil {
		t.Fatalf("dispatch client: %v", err)
	}
	reg, err := presets.Defaults()
	if err != nil {
		t.Fatalf("presets: %v", err)
	}
	orch, err := planner.NewOrchestrator(planner.Options{
		Allocator:  jobs.NewAllocator(files),
		Records:    records,
		Dispatcher: client,
		Screen:     safety.NewScreen(nil),
		Presets:    reg,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	api := handlers.NewPlanner(handlers.PlannerDeps{
		Orchestrator: orch,
		Query:        jobs.NewQueryService(records, logger),
		Presets:      reg,
		Logger:       logger,
	})
	plannerSrv := httptest.NewServer(NewPlannerRouter(PlannerRoutes{API: api}, logger))
	t.Cleanup(plannerSrv.Close)

	return &stack{files: files, renderer: rendererSrv, planner: plannerSrv}
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	return resp, decodeBody(t, resp.Body)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	return resp, decodeBody(t, resp.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestCreateJobSkeletonFlow(t *testing.T) {
	s := newStack(t)

	resp, body := postJSON(t, s.planner.URL+"/api/jobs", map[string]any{
		"job_type":   "text2img",
		"parameters": map[string]any{"prompt": "a calm living room", "style_preset": "japandi"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %v)", resp.StatusCode, body)
	}
	if body["status"] != planner.StatusDispatched {
		t.Fatalf("result status = %v, want dispatched", body["status"])
	}
	record, _ := body["record"].(map[string]any)
	if record["status"] != string(domain.JobStatusDispatchedSkeleton) {
		t.Fatalf("record status = %v, want dispatched-skeleton", record["status"])
	}

	folder, _ := body["job_folder"].(string)
	jobID, _ := body["job_id"].(string)
	date := filepath.Base(filepath.Dir(folder))

	resp, list := getJSON(t, s.planner.URL+"/api/jobs/"+date)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	entries, _ := list["jobs"].([]any)
	if len(entries) != 1 {
		t.Fatalf("jobs = %d, want 1", len(entries))
	}

	resp, got := getJSON(t, s.planner.URL+"/api/jobs/"+date+"/"+jobID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	params, _ := got["parameters"].(map[string]any)
	if _, ok := params["style_config"]; !ok {
		t.Fatalf("style_config missing from persisted parameters: %v", params)
	}

	img, err := http.Get(s.planner.URL + "/api/jobs/" + date + "/" + jobID + "/image")
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	defer img.Body.Close()
	if img.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("content type = %q, want image/png", img.Header.Get("Content-Type"))
	}
	decoded, err := png.Decode(img.Body)
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	if decoded.Bounds().Dx() != 512 {
		t.Fatalf("width = %d, want 512", decoded.Bounds().Dx())
	}

	archive, err := http.Get(s.planner.URL + "/api/jobs/" + date + "/archive")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	defer archive.Body.Close()
	zipped, _ := io.ReadAll(archive.Body)
	zr, err := zip.NewReader(bytes.NewReader(zipped), int64(len(zipped)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 || zr.File[1].Name != jobID+"/output.png" {
		t.Fatalf("archive files = %d, want meta and artifact of %s", len(zr.File), jobID)
	}
}

func TestCreateJobRejections(t *testing.T) {
	s := newStack(t)
	tests := []struct {
		name string
		body map[string]any
		code string
	}{
		{name: "unsafe", body: map[string]any{"job_type": "text2img", "parameters": map[string]any{"prompt": "how to make a bomb"}}, code: "unsafe_prompt"},
		{name: "unknown type", body: map[string]any{"job_type": "video", "parameters": map[string]any{}}, code: "invalid_parameters"},
		{name: "unknown preset", body: map[string]any{"job_type": "text2img", "parameters": map[string]any{"prompt": "x", "style_preset": "baroque"}}, code: "unknown_preset"},
		{name: "missing type", body: map[string]any{"parameters": map[string]any{}}, code: "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, s.planner.URL+"/api/jobs", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if body["error"] != tt.code {
				t.Fatalf("error = %v, want %s", body["error"], tt.code)
			}
		})
	}

	days, err := os.ReadDir(s.files.BasePath())
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(days) != 0 {
		t.Fatalf("rejected requests created %d date folders", len(days))
	}
}

func TestCreateJobRendererDown(t *testing.T) {
	s := newStack(t)
	s.renderer.Close()

	resp, body := postJSON(t, s.planner.URL+"/api/jobs", map[string]any{
		"job_type":   "text2img",
		"parameters": map[string]any{"prompt": "a kitchen"},
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	dispatchErr, _ := body["dispatch_error"].(map[string]any)
	if dispatchErr["error"] != string(dispatch.CodeTransportFailed) {
		t.Fatalf("dispatch_error = %v, want transport_failed", dispatchErr)
	}
	folder, _ := body["job_folder"].(string)
	if _, err := os.Stat(filepath.Join(folder, jobs.RecordFile)); err != nil {
		t.Fatalf("planned record should survive a failed dispatch: %v", err)
	}
}

func TestJobQueriesValidateInput(t *testing.T) {
	s := newStack(t)
	tests := []struct {
		path   string
		status int
		code   string
	}{
		{path: "/api/jobs/2025-13-45", status: http.StatusBadRequest, code: "invalid_query"},
		{path: "/api/jobs/2025-01-01/NOTHEX", status: http.StatusBadRequest, code: "invalid_query"},
		{path: "/api/jobs/2025-01-01/" + strings.Repeat("a", 32), status: http.StatusNotFound, code: "job_not_found"},
		{path: "/api/jobs/2025-01-01/" + strings.Repeat("a", 32) + "/attempts", status: http.StatusServiceUnavailable, code: "ledger_disabled"},
		{path: "/api/presets/acoustics", status: http.StatusNotFound, code: "unknown_kind"},
	}
	for _, tt := range tests {
		resp, body := getJSON(t, s.planner.URL+tt.path)
		if resp.StatusCode != tt.status || body["error"] != tt.code {
			t.Fatalf("GET %s = %d %v, want %d %s", tt.path, resp.StatusCode, body["error"], tt.status, tt.code)
		}
	}

	resp, list := getJSON(t, s.planner.URL+"/api/jobs/2025-01-01")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty day status = %d, want 200", resp.StatusCode)
	}
	if entries, _ := list["jobs"].([]any); len(entries) != 0 {
		t.Fatalf("empty day jobs = %v, want none", entries)
	}
}

func TestPresetsEndpoint(t *testing.T) {
	s := newStack(t)
	resp, body := getJSON(t, s.planner.URL+"/api/presets/style")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	entries, _ := body["presets"].([]any)
	if len(entries) == 0 {
		t.Fatalf("expected style presets")
	}
}

func TestRendererEndpoints(t *testing.T) {
	s := newStack(t)

	resp, caps := getJSON(t, s.renderer.URL+"/")
	if resp.StatusCode != http.StatusOK || caps["mode"] != "skeleton" {
		t.Fatalf("capabilities = %d %v, want skeleton mode", resp.StatusCode, caps)
	}

	resp, body := postJSON(t, s.renderer.URL+"/api/render/dispatch", map[string]any{
		"job_folder": "/definitely/not/under/outputs",
		"parameters": map[string]any{},
	})
	if resp.StatusCode != http.StatusBadRequest || body["detail"] == nil {
		t.Fatalf("outside folder = %d %v, want 400 with detail", resp.StatusCode, body)
	}

	folder, err := s.files.MkdirExclusive("2025-01-01/" + strings.Repeat("b", 32))
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	resp, body = postJSON(t, s.renderer.URL+"/api/render/complete-skeleton", map[string]any{"job_folder": folder})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("complete without record = %d %v, want 404", resp.StatusCode, body)
	}

	resp, _ = postJSON(t, s.renderer.URL+"/api/render/dispatch", map[string]any{
		"job_folder": folder,
		"parameters": map[string]any{"job_type": "text2img", "prompt": "x"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dispatch status = %d, want 200", resp.StatusCode)
	}
	resp, _ = postJSON(t, s.renderer.URL+"/api/render/complete-skeleton", map[string]any{"job_folder": folder})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status = %d, want 200", resp.StatusCode)
	}
	resp, body = postJSON(t, s.renderer.URL+"/api/render/dispatch", map[string]any{"job_folder": folder})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("dispatch after completion = %d %v, want 409", resp.StatusCode, body)
	}
}
