package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"renderstudio/internal/artifacts"
	"renderstudio/internal/domain"
	"renderstudio/internal/jobs"
	"renderstudio/internal/ledger"
	"renderstudio/internal/middleware"
	"renderstudio/internal/planner"
	"renderstudio/internal/presets"
	"renderstudio/pkg/zip"
)

type createJobRequest struct {
	JobType    string            `json:"job_type"`
	Parameters domain.Parameters `json:"parameters"`
}

type redispatchRequest struct {
	JobFolder string `json:"job_folder"`
}

// LedgerReader exposes the dispatch audit trail.
type LedgerReader interface {
	Attempts(ctx context.Context, jobID string) ([]ledger.Attempt, error)
	OutcomeCounts(ctx context.Context, since time.Time) (map[string]int64, error)
}

// PlannerDeps wires the planner endpoints. Ledger may be nil.
type PlannerDeps struct {
	Orchestrator *planner.Orchestrator
	Query        *jobs.QueryService
	Presets      *presets.Registry
	Ledger       LedgerReader
	Logger       zerolog.Logger
}

// Planner serves the planner process endpoints. Errors use {error, detail}.
type Planner struct {
	orch    *planner.Orchestrator
	query   *jobs.QueryService
	presets *presets.Registry
	ledger  LedgerReader
	logger  zerolog.Logger
}

func NewPlanner(deps PlannerDeps) *Planner {
	return &Planner{
		orch:    deps.Orchestrator,
		query:   deps.Query,
		presets: deps.Presets,
		ledger:  deps.Ledger,
		logger:  deps.Logger,
	}
}

// CreateJob plans a job and dispatches it once. 202 when the renderer
// accepted it, 502 when dispatch failed; the folder is kept either way.
func (p *Planner) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		p.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if strings.TrimSpace(req.JobType) == "" {
		p.error(w, http.StatusBadRequest, "bad_request", "job_type is required")
		return
	}
	result, err := p.orch.CreateAndDispatch(r.Context(), req.JobType, req.Parameters)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	writeJSON(w, resultStatus(result), result)
}

// Redispatch sends an existing job folder to the renderer again.
func (p *Planner) Redispatch(w http.ResponseWriter, r *http.Request) {
	var req redispatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		p.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if strings.TrimSpace(req.JobFolder) == "" {
		p.error(w, http.StatusBadRequest, "bad_request", "job_folder is required")
		return
	}
	result, err := p.orch.Redispatch(r.Context(), req.JobFolder)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	writeJSON(w, resultStatus(result), result)
}

// ListJobs lists the jobs of one day.
func (p *Planner) ListJobs(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	list, err := p.query.List(r.Context(), date)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "jobs": list})
}

// GetJob returns one full record.
func (p *Planner) GetJob(w http.ResponseWriter, r *http.Request) {
	rec, err := p.query.Get(r.Context(), chi.URLParam(r, "date"), chi.URLParam(r, "job_id"))
	if err != nil {
		p.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// JobImage streams the job artifact.
func (p *Planner) JobImage(w http.ResponseWriter, r *http.Request) {
	data, name, err := p.query.Artifact(r.Context(), chi.URLParam(r, "date"), chi.URLParam(r, "job_id"))
	if err != nil {
		p.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", artifacts.ContentType(name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `inline; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DayArchive downloads every record and artifact of one day as a zip.
func (p *Planner) DayArchive(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	entries, err := p.query.Export(r.Context(), date)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	data, err := zip.Build(entries)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `attachment; filename="jobs-`+date+`.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// JobAttempts returns the dispatch ledger entries of a job.
func (p *Planner) JobAttempts(w http.ResponseWriter, r *http.Request) {
	if p.ledger == nil {
		p.error(w, http.StatusServiceUnavailable, "ledger_disabled", "dispatch ledger is not configured")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if !jobs.ValidJobID(jobID) {
		p.error(w, http.StatusBadRequest, "invalid_query", "job_id must be 32 lowercase hex characters")
		return
	}
	attempts, err := p.ledger.Attempts(r.Context(), jobID)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "attempts": attempts})
}

// DispatchStats summarizes dispatch outcomes over a trailing window given in
// hours (default 24).
func (p *Planner) DispatchStats(w http.ResponseWriter, r *http.Request) {
	if p.ledger == nil {
		p.error(w, http.StatusServiceUnavailable, "ledger_disabled", "dispatch ledger is not configured")
		return
	}
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			p.error(w, http.StatusBadRequest, "invalid_query", "hours must be a positive integer")
			return
		}
		hours = n
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	counts, err := p.ledger.OutcomeCounts(r.Context(), since)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"since": since, "outcomes": counts})
}

// PresetKinds lists the registry kinds.
func (p *Planner) PresetKinds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"kinds": p.presets.Kinds()})
}

// Presets lists the presets of one kind.
func (p *Planner) Presets(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if !p.presets.HasKind(kind) {
		p.error(w, http.StatusNotFound, "unknown_kind", "no presets of kind "+kind)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": strings.ToLower(kind), "presets": p.presets.Entries(kind)})
}

func (p *Planner) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := plannerStatus(err)
	evt := p.logger.Warn()
	if status >= http.StatusInternalServerError {
		evt = p.logger.Error()
	}
	evt.Err(err).
		Str("code", code).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Msg("planner: request failed")
	p.error(w, status, code, err.Error())
}

func (p *Planner) error(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}

func resultStatus(result *planner.Result) int {
	if result.Status == planner.StatusDispatched {
		return http.StatusAccepted
	}
	return http.StatusBadGateway
}

func plannerStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnsafePrompt):
		return http.StatusBadRequest, "unsafe_prompt"
	case errors.Is(err, domain.ErrUnknownPreset):
		return http.StatusBadRequest, "unknown_preset"
	case errors.Is(err, domain.ErrInvalidParameters):
		return http.StatusBadRequest, "invalid_parameters"
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, domain.ErrInvalidFolder):
		return http.StatusBadRequest, "invalid_folder"
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found"
	case errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound, "record_not_found"
	case errors.Is(err, domain.ErrArtifactNotFound):
		return http.StatusNotFound, "artifact_not_found"
	case errors.Is(err, domain.ErrTerminalState):
		return http.StatusConflict, "terminal_state"
	case errors.Is(err, domain.ErrRecordCorrupt):
		return http.StatusInternalServerError, "record_corrupt"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
