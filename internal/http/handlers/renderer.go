package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"renderstudio/internal/dispatch"
	"renderstudio/internal/domain"
	"renderstudio/internal/middleware"
	"renderstudio/internal/renderer"
)

type dispatchRequest struct {
	JobFolder  string            `json:"job_folder"`
	Parameters domain.Parameters `json:"parameters"`
}

type completeRequest struct {
	JobFolder string `json:"job_folder"`
}

// Renderer serves the renderer process endpoints. Errors use the {detail}
// body shape the dispatch client parses.
type Renderer struct {
	handler *renderer.Handler
	logger  zerolog.Logger
}

func NewRenderer(handler *renderer.Handler, logger zerolog.Logger) *Renderer {
	return &Renderer{handler: handler, logger: logger}
}

// Root reports runtime capabilities.
func (rd *Renderer) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rd.handler.Capabilities().Snapshot())
}

// Dispatch runs one job folder through the handler.
func (rd *Renderer) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rd.detail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.JobFolder) == "" {
		rd.detail(w, http.StatusBadRequest, "job_folder is required")
		return
	}
	rec, err := rd.handler.Handle(r.Context(), req.JobFolder, req.Parameters)
	if err != nil {
		rd.fail(w, r, req.JobFolder, err)
		return
	}
	writeJSON(w, http.StatusOK, dispatch.Result{Status: "ok", JobFolder: rec.JobFolder, Record: rec})
}

// CompleteSkeleton finishes a job manually with the placeholder artifact.
func (rd *Renderer) CompleteSkeleton(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rd.detail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.JobFolder) == "" {
		rd.detail(w, http.StatusBadRequest, "job_folder is required")
		return
	}
	rec, err := rd.handler.CompleteSkeleton(r.Context(), req.JobFolder)
	if err != nil {
		rd.fail(w, r, req.JobFolder, err)
		return
	}
	writeJSON(w, http.StatusOK, dispatch.Result{Status: "ok", JobFolder: rec.JobFolder, Record: rec})
}

func (rd *Renderer) fail(w http.ResponseWriter, r *http.Request, folder string, err error) {
	status := rendererStatus(err)
	evt := rd.logger.Warn()
	if status >= http.StatusInternalServerError {
		evt = rd.logger.Error()
	}
	evt.Err(err).
		Str("job_folder", folder).
		Int("status", status).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Msg("renderer: request failed")
	rd.detail(w, status, err.Error())
}

func (rd *Renderer) detail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func rendererStatus(err error) int {
	var engineErr *renderer.EngineError
	switch {
	case errors.As(err, &engineErr):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrInvalidFolder), errors.Is(err, domain.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTerminalState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
