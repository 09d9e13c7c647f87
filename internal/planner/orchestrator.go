// Package planner creates job folders, persists planned records and hands
// them to the renderer.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"renderstudio/internal/dispatch"
	"renderstudio/internal/domain"
	"renderstudio/internal/jobs"
	"renderstudio/internal/ledger"
)

// Result statuses.
const (
	StatusDispatched     = "dispatched"
	StatusDispatchFailed = "dispatch_failed"
)

// Dispatcher delivers a job folder to the renderer.
type Dispatcher interface {
	Dispatch(ctx context.Context, folder string, params domain.Parameters) (*dispatch.Result, error)
}

// Screener rejects unsafe prompt text.
type Screener interface {
	Check(texts ...string) (bool, string)
}

// PresetResolver validates preset references and embeds their configs.
type PresetResolver interface {
	Resolve(params domain.Parameters) (domain.Parameters, error)
}

// Publisher receives records after each planner-side change.
type Publisher interface {
	Publish(rec domain.JobRecord)
}

// Result is the outcome of creating or re-dispatching a job. A failed
// dispatch still carries the folder so the caller can retry later.
type Result struct {
	Status        string            `json:"status"`
	JobID         string            `json:"job_id"`
	JobFolder     string            `json:"job_folder"`
	PlannedOutput string            `json:"planned_output"`
	Record        *domain.JobRecord `json:"record,omitempty"`
	DispatchError map[string]any    `json:"dispatch_error,omitempty"`
	Attempts      int               `json:"attempts"`
}

// Options wires an Orchestrator.
type Options struct {
	Allocator  *jobs.Allocator
	Records    *jobs.RecordStore
	Dispatcher Dispatcher
	Screen     Screener
	Presets    PresetResolver
	Ledger     ledger.Recorder
	Publisher  Publisher
	Retry      RetryPolicy
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Orchestrator runs the planner side of the job lifecycle.
type Orchestrator struct {
	alloc      *jobs.Allocator
	records    *jobs.RecordStore
	dispatcher Dispatcher
	screen     Screener
	presets    PresetResolver
	ledger     ledger.Recorder
	publisher  Publisher
	retry      RetryPolicy
	logger     zerolog.Logger
	now        func() time.Time
}

// NewOrchestrator validates options.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Allocator == nil || opts.Records == nil {
		return nil, errors.New("planner: allocator and record store are required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("planner: dispatcher is required")
	}
	o := &Orchestrator{
		alloc:      opts.Allocator,
		records:    opts.Records,
		dispatcher: opts.Dispatcher,
		screen:     opts.Screen,
		presets:    opts.Presets,
		ledger:     opts.Ledger,
		publisher:  opts.Publisher,
		retry:      opts.Retry,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if o.ledger == nil {
		o.ledger = ledger.Nop{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// CreateAndDispatch screens and records a new job, then dispatches it once.
// Nothing is rolled back when the dispatch fails.
func (o *Orchestrator) CreateAndDispatch(ctx context.Context, rawType string, params domain.Parameters) (*Result, error) {
	jobType, ok := domain.ParseJobType(rawType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown job_type %q", domain.ErrInvalidParameters, rawType)
	}
	if params == nil {
		params = domain.Parameters{}
	}
	if err := ValidateParameters(jobType, params); err != nil {
		return nil, err
	}
	if o.screen != nil {
		allowed, reason := o.screen.Check(params.String(domain.ParamPrompt), params.String(domain.ParamNegativePrompt))
		if !allowed {
			o.logger.Warn().Str("job_type", string(jobType)).Str("reason", reason).Msg("planner: prompt rejected")
			return nil, fmt.Errorf("%w: %s", domain.ErrUnsafePrompt, reason)
		}
	}
	resolved := params.Clone()
	if o.presets != nil {
		var err error
		if resolved, err = o.presets.Resolve(params); err != nil {
			return nil, err
		}
	}

	folder, jobID, err := o.alloc.Allocate(ctx)
	if err != nil {
		return nil, err
	}
	key, err := o.records.Resolve(folder)
	if err != nil {
		return nil, err
	}

	resolved[domain.ParamJobID] = jobID
	resolved[domain.ParamJobType] = string(jobType)
	plannedOutput := resolved.String(domain.ParamPlannedOutput)
	if plannedOutput == "" {
		plannedOutput = domain.DefaultPlannedOutput
	}
	rec := domain.JobRecord{
		JobID:         jobID,
		JobType:       jobType,
		Status:        domain.JobStatusPlanned,
		Parameters:    resolved,
		CreatedAt:     domain.Stamp(o.now()),
		PlannedOutput: plannedOutput,
		JobFolder:     folder,
	}
	if err := o.records.Write(ctx, key, &rec); err != nil {
		return nil, err
	}
	o.logger.Info().Str("job_id", jobID).Str("job_type", string(jobType)).Str("job_folder", folder).Msg("planner: job planned")
	o.publish(rec)

	return o.dispatch(ctx, rec, NoRetry), nil
}

// Redispatch sends a persisted job to the renderer again, retrying transport
// failures per the configured policy.
func (o *Orchestrator) Redispatch(ctx context.Context, folder string) (*Result, error) {
	key, err := o.records.Resolve(folder)
	if err != nil {
		return nil, err
	}
	rec, err := o.records.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Revisitable() {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrTerminalState, rec.JobID, rec.Status)
	}
	if rec.JobFolder == "" {
		rec.JobFolder = folder
	}
	return o.dispatch(ctx, rec, o.retry), nil
}

func (o *Orchestrator) dispatch(ctx context.Context, rec domain.JobRecord, policy RetryPolicy) *Result {
	result := &Result{
		JobID:         rec.JobID,
		JobFolder:     rec.JobFolder,
		PlannedOutput: rec.ArtifactName(),
	}

	params := wireParameters(rec)
	var (
		res *dispatch.Result
		err error
	)
	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		result.Attempts = attempt
		res, err = o.dispatcher.Dispatch(ctx, rec.JobFolder, params)
		o.recordAttempt(ctx, rec, err)
		if err == nil || !dispatch.IsCode(err, dispatch.CodeTransportFailed) || attempt == policy.attempts() {
			break
		}
		wait := policy.delay(attempt)
		o.logger.Warn().Err(err).Str("job_id", rec.JobID).Int("attempt", attempt).Dur("retry_in", wait).Msg("planner: renderer unreachable, retrying")
		if serr := sleep(ctx, wait); serr != nil {
			break
		}
	}

	if err != nil {
		result.Status = StatusDispatchFailed
		result.Record = &rec
		var dispatchErr *dispatch.Error
		if errors.As(err, &dispatchErr) {
			result.DispatchError = dispatchErr.Payload()
		} else {
			result.DispatchError = map[string]any{"error": "dispatch_failed", "detail": err.Error()}
		}
		o.logger.Error().Err(err).Str("job_id", rec.JobID).Int("attempts", result.Attempts).Msg("planner: dispatch failed, job left planned")
		return result
	}

	result.Status = StatusDispatched
	remote := res.Record
	result.Record = &remote
	o.logger.Info().Str("job_id", rec.JobID).Str("status", string(remote.Status)).Msg("planner: job dispatched")
	o.publish(remote)
	return result
}

// wireParameters returns the bag sent to the renderer. It always names the
// job so a renderer without a readable record can still plan it.
func wireParameters(rec domain.JobRecord) domain.Parameters {
	params := rec.Parameters.Clone()
	if params.String(domain.ParamJobID) == "" {
		params[domain.ParamJobID] = rec.JobID
	}
	if params.String(domain.ParamJobType) == "" && rec.JobType != "" {
		params[domain.ParamJobType] = string(rec.JobType)
	}
	return params
}

func (o *Orchestrator) recordAttempt(ctx context.Context, rec domain.JobRecord, err error) {
	attempt := ledger.Attempt{
		JobID:     rec.JobID,
		JobFolder: rec.JobFolder,
		JobType:   rec.JobType,
		Source:    ledger.SourcePlanner,
		Outcome:   StatusDispatched,
	}
	var dispatchErr *dispatch.Error
	switch {
	case errors.As(err, &dispatchErr):
		attempt.Outcome = StatusDispatchFailed
		attempt.ErrorCode = string(dispatchErr.Code)
		attempt.StatusCode = dispatchErr.StatusCode
		attempt.Detail = dispatchErr.Detail
	case err != nil:
		attempt.Outcome = StatusDispatchFailed
		attempt.Detail = err.Error()
	}
	if lerr := o.ledger.Record(context.WithoutCancel(ctx), attempt); lerr != nil {
		o.logger.Warn().Err(lerr).Str("job_id", rec.JobID).Msg("planner: ledger write failed")
	}
}

func (o *Orchestrator) publish(rec domain.JobRecord) {
	if o.publisher != nil {
		o.publisher.Publish(rec)
	}
}
