package planner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"renderstudio/internal/dispatch"
	"renderstudio/internal/domain"
	"renderstudio/internal/jobs"
	"renderstudio/internal/presets"
	"renderstudio/internal/renderer"
	"renderstudio/internal/safety"
	"renderstudio/internal/storage"
)

type env struct {
	files   *storage.FileStore
	records *jobs.RecordStore
	handler *renderer.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	records := jobs.NewRecordStore(files)
	h, err := renderer.NewHandler(renderer.Options{Records: records, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	return &env{files: files, records: records, handler: h}
}

// rendererServer exposes the handler the way the renderer binary does.
func (e *env) rendererServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req dispatch.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": err.Error()})
			return
		}
		rec, err := e.handler.Handle(r.Context(), req.JobFolder, req.Parameters)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(dispatch.Result{Status: "ok", JobFolder: req.JobFolder, Record: rec})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (e *env) orchestrator(t *testing.T, d Dispatcher, retry RetryPolicy) *Orchestrator {
	t.Helper()
	reg, err := presets.Defaults()
	if err != nil {
		t.Fatalf("presets: %v", err)
	}
	o, err := NewOrchestrator(Options{
		Allocator:  jobs.NewAllocator(e.files),
		Records:    e.records,
		Dispatcher: d,
		Screen:     safety.NewScreen(nil),
		Presets:    reg,
		Retry:      retry,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return o
}

func newDispatchClient(t *testing.T, url string) *dispatch.Client {
	t.Helper()
	c, err := dispatch.NewClient(dispatch.Options{BaseURL: url, Timeout: 2 * time.Second, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("dispatch client: %v", err)
	}
	return c
}

// flakyDispatcher fails with transport_failed a fixed number of times.
type flakyDispatcher struct {
	failures int
	calls    int
	next     Dispatcher
}

func (f *flakyDispatcher) Dispatch(ctx context.Context, folder string, params domain.Parameters) (*dispatch.Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &dispatch.Error{Code: dispatch.CodeTransportFailed, Detail: "connection refused"}
	}
	return f.next.Dispatch(ctx, folder, params)
}

// capturingDispatcher records the bag of every dispatch before forwarding it.
type capturingDispatcher struct {
	sent []domain.Parameters
	next Dispatcher
}

func (c *capturingDispatcher) Dispatch(ctx context.Context, folder string, params domain.Parameters) (*dispatch.Result, error) {
	c.sent = append(c.sent, params.Clone())
	if c.next == nil {
		return nil, &dispatch.Error{Code: dispatch.CodeTransportFailed, Detail: "connection refused"}
	}
	return c.next.Dispatch(ctx, folder, params)
}

func TestDispatchedParametersNameTheJob(t *testing.T) {
	e := newEnv(t)
	capture := &capturingDispatcher{}
	o := e.orchestrator(t, capture, NoRetry)

	res, err := o.CreateAndDispatch(context.Background(), "text2img", domain.Parameters{"prompt": "a red chair"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(capture.sent) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(capture.sent))
	}
	sent := capture.sent[0]
	if got := sent.String(domain.ParamJobID); got != res.JobID {
		t.Fatalf("job_id = %q, want %q", got, res.JobID)
	}
	if got := sent.String(domain.ParamJobType); got != "text2img" {
		t.Fatalf("job_type = %q, want text2img", got)
	}
	if got := sent.String(domain.ParamPrompt); got != "a red chair" {
		t.Fatalf("prompt = %q, want a red chair", got)
	}

	// An older record without the keys still sends them on redispatch.
	key, err := e.records.Resolve(res.JobFolder)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	rec, err := e.records.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.Parameters.String(domain.ParamJobID) != res.JobID {
		t.Fatalf("persisted job_id = %q, want %q", rec.Parameters.String(domain.ParamJobID), res.JobID)
	}
	delete(rec.Parameters, domain.ParamJobID)
	delete(rec.Parameters, domain.ParamJobType)
	if err := e.records.Write(context.Background(), key, &rec); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := o.Redispatch(context.Background(), res.JobFolder); err != nil {
		t.Fatalf("redispatch: %v", err)
	}
	resent := capture.sent[len(capture.sent)-1]
	if resent.String(domain.ParamJobID) != res.JobID || resent.String(domain.ParamJobType) != "text2img" {
		t.Fatalf("redispatched bag = %#v, want job_id and job_type", resent)
	}
}

func TestCreateAndDispatchSkeletonEndToEnd(t *testing.T) {
	e := newEnv(t)
	srv := e.rendererServer(t)
	o := e.orchestrator(t, newDispatchClient(t, srv.URL), NoRetry)

	res, err := o.CreateAndDispatch(context.Background(), "text2img", domain.Parameters{"prompt": "a red chair", "width": 512, "height": 512})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Status != StatusDispatched || res.Attempts != 1 {
		t.Fatalf("result = %#v", res)
	}
	if res.Record.Status != domain.JobStatusDispatchedSkeleton || res.Record.Mode != domain.ModeSkeleton {
		t.Fatalf("record status/mode = %s/%s", res.Record.Status, res.Record.Mode)
	}
	if _, err := os.Stat(filepath.Join(res.JobFolder, res.PlannedOutput)); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}

	key, err := e.records.Resolve(res.JobFolder)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	persisted, err := e.records.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if persisted.JobID != res.JobID || persisted.Status != domain.JobStatusDispatchedSkeleton || persisted.Revision != 2 {
		t.Fatalf("persisted = %#v", persisted)
	}
}

func TestCreateAndDispatchTransportFailureThenRedispatch(t *testing.T) {
	e := newEnv(t)
	srv := e.rendererServer(t)
	flaky := &flakyDispatcher{failures: 1, next: newDispatchClient(t, srv.URL)}
	o := e.orchestrator(t, flaky, NoRetry)

	res, err := o.CreateAndDispatch(context.Background(), "text2img", domain.Parameters{"prompt": "a red chair"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Status != StatusDispatchFailed || res.DispatchError["error"] != "transport_failed" {
		t.Fatalf("result = %#v", res)
	}
	if res.JobFolder == "" || res.Record.Status != domain.JobStatusPlanned {
		t.Fatalf("failed result should point at the planned job: %#v", res)
	}

	key, _ := e.records.Resolve(res.JobFolder)
	persisted, err := e.records.Read(context.Background(), key)
	if err != nil || persisted.Status != domain.JobStatusPlanned {
		t.Fatalf("persisted = %#v, %v", persisted, err)
	}

	again, err := o.Redispatch(context.Background(), res.JobFolder)
	if err != nil {
		t.Fatalf("redispatch: %v", err)
	}
	if again.Status != StatusDispatched || again.Record.Status != domain.JobStatusDispatchedSkeleton {
		t.Fatalf("redispatch result = %#v", again)
	}
}

func TestRedispatchRetriesTransportFailures(t *testing.T) {
	e := newEnv(t)
	srv := e.rendererServer(t)
	flaky := &flakyDispatcher{failures: 3, next: newDispatchClient(t, srv.URL)}
	o := e.orchestrator(t, flaky, RetryPolicy{MaxAttempts: 4, Backoff: ConstantBackoff{Interval: time.Millisecond}})

	res, err := o.CreateAndDispatch(context.Background(), "text2img", domain.Parameters{"prompt": "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Status != StatusDispatchFailed || res.Attempts != 1 {
		t.Fatalf("create must not retry: %#v", res)
	}

	again, err := o.Redispatch(context.Background(), res.JobFolder)
	if err != nil {
		t.Fatalf("redispatch: %v", err)
	}
	if again.Status != StatusDispatched || again.Attempts != 3 {
		t.Fatalf("redispatch = %#v (calls %d)", again, flaky.calls)
	}
}

func TestRedispatchDoesNotRetryProtocolFailures(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"detail":"job already in terminal state"}`))
	}))
	defer srv.Close()
	o := e.orchestrator(t, newDispatchClient(t, srv.URL), RetryPolicy{MaxAttempts: 5, Backoff: ConstantBackoff{}})

	res, err := o.CreateAndDispatch(context.Background(), "upscale", domain.Parameters{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.DispatchError["error"] != "protocol_failed" || res.DispatchError["status_code"] != http.StatusConflict {
		t.Fatalf("dispatch error = %#v", res.DispatchError)
	}
	if _, err := o.Redispatch(context.Background(), res.JobFolder); err != nil {
		t.Fatalf("redispatch: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("renderer calls = %d, want 2", calls.Load())
	}
}

func TestCreateAndDispatchRejectsBeforePersisting(t *testing.T) {
	tests := []struct {
		name    string
		jobType string
		params  domain.Parameters
		want    error
	}{
		{name: "unsafe prompt", jobType: "text2img", params: domain.Parameters{"prompt": "how to make a bomb"}, want: domain.ErrUnsafePrompt},
		{name: "unsafe negative prompt", jobType: "text2img", params: domain.Parameters{"prompt": "villa", "negative_prompt": "graphic gore"}, want: domain.ErrUnsafePrompt},
		{name: "unknown job type", jobType: "video", params: domain.Parameters{"prompt": "x"}, want: domain.ErrInvalidParameters},
		{name: "width out of range", jobType: "text2img", params: domain.Parameters{"prompt": "x", "width": 4096}, want: domain.ErrInvalidParameters},
		{name: "missing prompt", jobType: "text2img", params: domain.Parameters{}, want: domain.ErrInvalidParameters},
		{name: "planned output path", jobType: "upscale", params: domain.Parameters{"planned_output": "../x.png"}, want: domain.ErrInvalidParameters},
		{name: "unknown preset", jobType: "text2img", params: domain.Parameters{"prompt": "x", "lora_profile": "nope"}, want: domain.ErrUnknownPreset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			d := &flakyDispatcher{failures: 100}
			o := e.orchestrator(t, d, NoRetry)

			_, err := o.CreateAndDispatch(context.Background(), tt.jobType, tt.params)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			entries, err := os.ReadDir(e.files.BasePath())
			if err != nil {
				t.Fatalf("read outputs: %v", err)
			}
			if len(entries) != 0 || d.calls != 0 {
				t.Fatalf("expected nothing persisted or dispatched, found %d entries and %d calls", len(entries), d.calls)
			}
		})
	}
}

func TestCreateAndDispatchEmbedsPresetConfig(t *testing.T) {
	e := newEnv(t)
	srv := e.rendererServer(t)
	o := e.orchestrator(t, newDispatchClient(t, srv.URL), NoRetry)

	res, err := o.CreateAndDispatch(context.Background(), "text2img", domain.Parameters{"prompt": "loft", "lora_profile": "interiors_v1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := res.Record.Parameters["lora_config"]; !ok {
		t.Fatalf("lora_config missing from %#v", res.Record.Parameters)
	}
}

func TestRedispatchTerminalJob(t *testing.T) {
	e := newEnv(t)
	srv := e.rendererServer(t)
	o := e.orchestrator(t, newDispatchClient(t, srv.URL), NoRetry)

	res, err := o.CreateAndDispatch(context.Background(), "text2img", domain.Parameters{"prompt": "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.handler.CompleteSkeleton(context.Background(), res.JobFolder); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := o.Redispatch(context.Background(), res.JobFolder); !errors.Is(err, domain.ErrTerminalState) {
		t.Fatalf("err = %v, want ErrTerminalState", err)
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff{Initial: 100 * time.Millisecond, Max: time.Second}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Fatalf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}
