package planner

import (
	"fmt"
	"path/filepath"

	"renderstudio/internal/domain"
)

type intRange struct {
	key      string
	min, max int64
}

type floatRange struct {
	key      string
	min, max float64
}

var text2imgInts = []intRange{
	{key: domain.ParamWidth, min: 64, max: 2048},
	{key: domain.ParamHeight, min: 64, max: 2048},
	{key: domain.ParamSteps, min: 1, max: 150},
}

var text2imgFloats = []floatRange{
	{key: domain.ParamGuidance, min: 0, max: 20},
}

// ValidateParameters checks the bag for the given job type. Keys that are
// absent are left to renderer defaults.
func ValidateParameters(jobType domain.JobType, params domain.Parameters) error {
	if raw, ok := params[domain.ParamPlannedOutput]; ok {
		name, isString := raw.(string)
		if !isString || name == "" || filepath.Base(name) != name || name == "." || name == ".." {
			return fmt.Errorf("%w: planned_output must be a file name", domain.ErrInvalidParameters)
		}
	}
	if _, ok := params[domain.ParamSeed]; ok {
		if _, isInt := params.Int(domain.ParamSeed); !isInt {
			return fmt.Errorf("%w: seed must be an integer", domain.ErrInvalidParameters)
		}
	}
	if jobType != domain.JobTypeText2Img {
		return nil
	}

	if params.String(domain.ParamPrompt) == "" {
		return fmt.Errorf("%w: prompt is required", domain.ErrInvalidParameters)
	}
	for _, r := range text2imgInts {
		if _, present := params[r.key]; !present {
			continue
		}
		v, ok := params.Int(r.key)
		if !ok || v < r.min || v > r.max {
			return fmt.Errorf("%w: %s must be an integer between %d and %d", domain.ErrInvalidParameters, r.key, r.min, r.max)
		}
	}
	for _, r := range text2imgFloats {
		if _, present := params[r.key]; !present {
			continue
		}
		v, ok := params.Float(r.key)
		if !ok || v < r.min || v > r.max {
			return fmt.Errorf("%w: %s must be between %g and %g", domain.ErrInvalidParameters, r.key, r.min, r.max)
		}
	}
	return nil
}
