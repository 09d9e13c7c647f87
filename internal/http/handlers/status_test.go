package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"renderstudio/internal/domain"
	"renderstudio/internal/renderer"
)

func TestPlannerStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: fmt.Errorf("%w: bad", domain.ErrUnsafePrompt), status: http.StatusBadRequest, code: "unsafe_prompt"},
		{err: domain.ErrUnknownPreset, status: http.StatusBadRequest, code: "unknown_preset"},
		{err: domain.ErrInvalidParameters, status: http.StatusBadRequest, code: "invalid_parameters"},
		{err: domain.ErrInvalidQuery, status: http.StatusBadRequest, code: "invalid_query"},
		{err: domain.ErrInvalidFolder, status: http.StatusBadRequest, code: "invalid_folder"},
		{err: domain.ErrJobNotFound, status: http.StatusNotFound, code: "job_not_found"},
		{err: domain.ErrRecordNotFound, status: http.StatusNotFound, code: "record_not_found"},
		{err: domain.ErrArtifactNotFound, status: http.StatusNotFound, code: "artifact_not_found"},
		{err: domain.ErrTerminalState, status: http.StatusConflict, code: "terminal_state"},
		{err: domain.ErrRecordCorrupt, status: http.StatusInternalServerError, code: "record_corrupt"},
		{err: errors.New("disk on fire"), status: http.StatusInternalServerError, code: "internal"},
	}
	for _, tt := range tests {
		status, code := plannerStatus(tt.err)
		if status != tt.status || code != tt.code {
			t.Fatalf("plannerStatus(%v) = %d,%q want %d,%q", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestRendererStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("handle: %w", domain.ErrInvalidFolder), want: http.StatusBadRequest},
		{err: domain.ErrInvalidParameters, want: http.StatusBadRequest},
		{err: domain.ErrRecordNotFound, want: http.StatusNotFound},
		{err: domain.ErrTerminalState, want: http.StatusConflict},
		{err: &renderer.EngineError{Engine: "sd35"}, want: http.StatusInternalServerError},
		{err: domain.ErrRecordCorrupt, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := rendererStatus(tt.err); got != tt.want {
			t.Fatalf("rendererStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
