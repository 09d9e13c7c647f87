package domain

import "errors"

var (
	ErrInvalidFolder     = errors.New("invalid job folder")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrUnsafePrompt      = errors.New("unsafe prompt")
	ErrUnknownPreset     = errors.New("unknown preset")
	ErrTerminalState     = errors.New("job already in terminal state")
	ErrJobNotFound       = errors.New("job not found")
	ErrRecordNotFound    = errors.New("job record not found")
	ErrRecordCorrupt     = errors.New("job record corrupt")
	ErrArtifactNotFound  = errors.New("artifact not found")
)
