package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Parameters is the job-type specific parameter bag.
type Parameters map[string]any

// Well-known parameter keys.
const (
	ParamJobID          = "job_id"
	ParamJobType        = "job_type"
	ParamPrompt         = "prompt"
	ParamNegativePrompt = "negative_prompt"
	ParamWidth          = "width"
	ParamHeight         = "height"
	ParamSteps          = "num_inference_steps"
	ParamGuidance       = "guidance_scale"
	ParamSeed           = "seed"
	ParamPlannedOutput  = "planned_output"
)

// Merge returns a new bag holding every key of p overlaid with incoming.
// Keys missing from incoming are preserved; neither input is modified.
func (p Parameters) Merge(incoming Parameters) Parameters {
	out := make(Parameters, len(p)+len(incoming))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy.
func (p Parameters) Clone() Parameters {
	return Parameters(nil).Merge(p)
}

// String returns the trimmed string stored under key.
func (p Parameters) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Int returns the integer stored under key. Whole floats, json.Number and
// numeric strings are accepted since the bag usually comes from JSON.
func (p Parameters) Int(key string) (int64, bool) {
	switch v := p[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// IntOr returns the integer under key or fallback.
func (p Parameters) IntOr(key string, fallback int64) int64 {
	if v, ok := p.Int(key); ok {
		return v
	}
	return fallback
}

// Float returns the number stored under key.
func (p Parameters) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FloatOr returns the number under key or fallback.
func (p Parameters) FloatOr(key string, fallback float64) float64 {
	if v, ok := p.Float(key); ok {
		return v
	}
	return fallback
}
