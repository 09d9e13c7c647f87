package engine

import (
	"context"
	"strings"

	"renderstudio/internal/domain"
)

// Engine is the real rendering backend consumed by the renderer.
type Engine interface {
	// Name identifies the engine in record modes, e.g. "sd35".
	Name() string
	// Initialized reports whether the engine is ready to accept work.
	Initialized() bool
	// Generate renders a text-to-image request and returns PNG bytes.
	Generate(ctx context.Context, req Text2Image) ([]byte, error)
}

// Request is a planned engine invocation. Only Text2Image reaches the engine.
type Request interface {
	JobType() domain.JobType
}

// Text2Image carries the typed text-to-image parameters.
type Text2Image struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"num_inference_steps"`
	Guidance       float64 `json:"guidance_scale"`
	Seed           *int64  `json:"seed,omitempty"`
}

func (Text2Image) JobType() domain.JobType { return domain.JobTypeText2Img }

// Unsupported marks a job type the engine cannot serve yet.
type Unsupported struct {
	Type domain.JobType
}

func (u Unsupported) JobType() domain.JobType { return u.Type }

// Defaults applied when a text-to-image job omits a parameter.
const (
	DefaultSize     = 1024
	DefaultSteps    = 28
	DefaultGuidance = 4.5
)

// Plan turns the job type and parameter bag into a typed request.
func Plan(jobType domain.JobType, params domain.Parameters) Request {
	if jobType != domain.JobTypeText2Img {
		return Unsupported{Type: jobType}
	}
	req := Text2Image{
		Prompt:         strings.TrimSpace(params.String(domain.ParamPrompt)),
		NegativePrompt: params.String(domain.ParamNegativePrompt),
		Width:          int(params.IntOr(domain.ParamWidth, DefaultSize)),
		Height:         int(params.IntOr(domain.ParamHeight, DefaultSize)),
		Steps:          int(params.IntOr(domain.ParamSteps, DefaultSteps)),
		Guidance:       params.FloatOr(domain.ParamGuidance, DefaultGuidance),
	}
	if seed, ok := params.Int(domain.ParamSeed); ok {
		req.Seed = &seed
	}
	return req
}
