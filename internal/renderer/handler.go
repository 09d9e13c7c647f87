// Package renderer reconciles dispatch requests with the on-disk job record
// and runs either the real engine or the placeholder fallback.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"

	"renderstudio/internal/artifacts"
	"renderstudio/internal/domain"
	"renderstudio/internal/jobs"
	"renderstudio/internal/ledger"
	"renderstudio/internal/lock"
	"renderstudio/internal/providers/engine"
)

// DefaultEngineTimeout bounds a single engine invocation.
const DefaultEngineTimeout = 5 * time.Minute

// Publisher receives every committed record.
type Publisher interface {
	Publish(rec domain.JobRecord)
}

// EngineError reports a real-path failure. The failed record has already
// been persisted when it is returned.
type EngineError struct {
	Engine string
	Record domain.JobRecord
	err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s failed: %v", e.Engine, e.err)
}

func (e *EngineError) Unwrap() error { return e.err }

// Options wires a Handler.
type Options struct {
	Records       *jobs.RecordStore
	Capabilities  RuntimeCapabilities
	EngineTimeout time.Duration
	Locker        lock.Locker
	Mirror        artifacts.Mirror
	Publisher     Publisher
	Ledger        ledger.Recorder
	Logger        zerolog.Logger
	Now           func() time.Time
}

// Handler executes dispatch requests against job folders.
type Handler struct {
	records       *jobs.RecordStore
	caps          RuntimeCapabilities
	engineTimeout time.Duration
	locker        lock.Locker
	mirror        artifacts.Mirror
	publisher     Publisher
	ledger        ledger.Recorder
	logger        zerolog.Logger
	now           func() time.Time
}

// NewHandler validates options and fills defaults.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Records == nil {
		return nil, errors.New("renderer: record store is required")
	}
	h := &Handler{
		records:       opts.Records,
		caps:          opts.Capabilities,
		engineTimeout: opts.EngineTimeout,
		locker:        opts.Locker,
		mirror:        opts.Mirror,
		publisher:     opts.Publisher,
		ledger:        opts.Ledger,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if h.engineTimeout <= 0 {
		h.engineTimeout = DefaultEngineTimeout
	}
	if h.locker == nil {
		h.locker = lock.NewKeyedMutex()
	}
	if h.ledger == nil {
		h.ledger = ledger.Nop{}
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

// Capabilities returns the runtime capabilities the handler was built with.
func (h *Handler) Capabilities() RuntimeCapabilities {
	return h.caps
}

// Handle merges incoming parameters into the folder's record and renders it.
func (h *Handler) Handle(ctx context.Context, folder string, incoming domain.Parameters) (domain.JobRecord, error) {
	key, err := h.records.Resolve(folder)
	if err != nil {
		return domain.JobRecord{}, err
	}
	unlock, err := h.locker.Lock(ctx, key)
	if err != nil {
		return domain.JobRecord{}, fmt.Errorf("lock job folder: %w", err)
	}
	defer unlock()

	rec, err := h.load(ctx, key)
	if err != nil {
		return domain.JobRecord{}, err
	}
	if !rec.Status.Revisitable() {
		return rec, fmt.Errorf("%w: job %s is %s", domain.ErrTerminalState, rec.JobID, rec.Status)
	}
	h.reconcile(&rec, key, incoming)

	// Persisting the outcome must survive the caller hanging up.
	persistCtx := context.WithoutCancel(ctx)

	req := engine.Plan(rec.JobType, rec.Parameters)
	if t2i, ok := req.(engine.Text2Image); ok && h.caps.RealAvailable() {
		return h.runReal(ctx, persistCtx, key, rec, t2i)
	}
	if h.caps.RealEnabled {
		h.logger.Info().
			Str("job_id", rec.JobID).
			Str("job_type", string(rec.JobType)).
			Bool("engine_ready", h.caps.Engine != nil && h.caps.Engine.Initialized()).
			Msg("renderer: real path unavailable for job, using fallback")
	}
	return h.runFallback(persistCtx, key, rec)
}

// CompleteSkeleton marks a job finished without inference, writing a solid
// placeholder at the job's requested size.
func (h *Handler) CompleteSkeleton(ctx context.Context, folder string) (domain.JobRecord, error) {
	key, err := h.records.Resolve(folder)
	if err != nil {
		return domain.JobRecord{}, err
	}
	unlock, err := h.locker.Lock(ctx, key)
	if err != nil {
		return domain.JobRecord{}, fmt.Errorf("lock job folder: %w", err)
	}
	defer unlock()

	rec, err := h.records.Read(ctx, key)
	if err != nil {
		return domain.JobRecord{}, err
	}
	if !rec.Status.Revisitable() {
		return rec, fmt.Errorf("%w: job %s is %s", domain.ErrTerminalState, rec.JobID, rec.Status)
	}
	h.reconcile(&rec, key, nil)

	width := int(rec.Parameters.IntOr(domain.ParamWidth, engine.DefaultSize))
	height := int(rec.Parameters.IntOr(domain.ParamHeight, engine.DefaultSize))
	img, err := engine.SolidPNG(width, height, engine.ManualColor)
	if err != nil {
		return rec, fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}
	persistCtx := context.WithoutCancel(ctx)
	name := rec.ArtifactName()
	if _, err := h.records.WriteArtifact(persistCtx, key, name, img); err != nil {
		return rec, fmt.Errorf("write artifact: %w", err)
	}

	now := h.now()
	rec.Status = domain.JobStatusCompletedSkeleton
	if rec.Mode == "" {
		rec.Mode = domain.ModeSkeleton
	}
	rec.OutputImage = name
	rec.CompletedAt = domain.Stamp(now)
	if err := h.records.Write(persistCtx, key, &rec); err != nil {
		return rec, err
	}
	h.logger.Info().Str("job_id", rec.JobID).Int("width", width).Int("height", height).Msg("renderer: job completed without inference")
	h.afterCommit(persistCtx, key, rec, img, nil)
	return rec, nil
}

func (h *Handler) load(ctx context.Context, key string) (domain.JobRecord, error) {
	rec, err := h.records.Read(ctx, key)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, domain.ErrRecordNotFound):
		h.logger.Warn().Str("job_folder", key).Msg("renderer: no record in job folder, starting fresh")
		return domain.JobRecord{JobID: path.Base(key), CreatedAt: domain.Stamp(h.now())}, nil
	default:
		return domain.JobRecord{}, err
	}
}

// reconcile merges incoming parameters and fills identity fields that are
// still unset. Fields already on the record are never overwritten.
func (h *Handler) reconcile(rec *domain.JobRecord, key string, incoming domain.Parameters) {
	rec.Parameters = rec.Parameters.Merge(incoming)
	if rec.JobID == "" {
		rec.JobID = path.Base(key)
	}
	if rec.JobType == "" {
		if raw := rec.Parameters.String(domain.ParamJobType); raw != "" {
			jobType, _ := domain.ParseJobType(raw)
			rec.JobType = jobType
		}
	}
	if rec.PlannedOutput == "" {
		rec.PlannedOutput = rec.Parameters.String(domain.ParamPlannedOutput)
		if rec.PlannedOutput == "" {
			rec.PlannedOutput = domain.DefaultPlannedOutput
		}
	}
	if rec.JobFolder == "" {
		if abs, err := h.records.Files().Path(key); err == nil {
			rec.JobFolder = abs
		}
	}
	if rec.CreatedAt == nil {
		rec.CreatedAt = domain.Stamp(h.now())
	}
}

func (h *Handler) runReal(ctx, persistCtx context.Context, key string, rec domain.JobRecord, req engine.Text2Image) (domain.JobRecord, error) {
	name := h.caps.Engine.Name()
	if rec.DispatchedAt == nil {
		rec.DispatchedAt = domain.Stamp(h.now())
	}

	started := h.now()
	img, err := h.generate(ctx, req)
	if err == nil {
		_, err = h.records.WriteArtifact(persistCtx, key, rec.ArtifactName(), img)
		if err != nil {
			err = fmt.Errorf("write artifact: %w", err)
		}
	}
	if err != nil {
		rec.Status = domain.JobStatusFailed
		rec.Mode = domain.RealErrorMode(name)
		rec.Error = err.Error()
		rec.FailedAt = domain.Stamp(h.now())
		if werr := h.records.Write(persistCtx, key, &rec); werr != nil {
			return rec, fmt.Errorf("persist failed job: %w (engine error: %v)", werr, err)
		}
		h.logger.Error().Err(err).Str("job_id", rec.JobID).Str("engine", name).Msg("renderer: engine run failed")
		h.afterCommit(persistCtx, key, rec, nil, err)
		return rec, &EngineError{Engine: name, Record: rec, err: err}
	}

	rec.Status = domain.JobStatusCompleted
	rec.Mode = domain.RealMode(name)
	rec.OutputImage = rec.ArtifactName()
	rec.CompletedAt = domain.Stamp(h.now())
	if err := h.records.Write(persistCtx, key, &rec); err != nil {
		return rec, err
	}
	h.logger.Info().
		Str("job_id", rec.JobID).
		Str("engine", name).
		Dur("elapsed", h.now().Sub(started)).
		Msg("renderer: job rendered")
	h.afterCommit(persistCtx, key, rec, img, nil)
	return rec, nil
}

// generate runs the engine in its own goroutine so a stuck engine cannot
// hold the request past the engine timeout. Only that timeout bounds the
// run; a caller hanging up does not fail the job.
func (h *Handler) generate(ctx context.Context, req engine.Text2Image) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.engineTimeout)
	defer cancel()

	type result struct {
		img []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("engine panic: %v", r)}
			}
		}()
		img, err := h.caps.Engine.Generate(ctx, req)
		done <- result{img: img, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && len(r.img) == 0 {
			return nil, errors.New("engine returned empty image")
		}
		return r.img, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("engine timed out after %s", h.engineTimeout)
		}
		return nil, ctx.Err()
	}
}

func (h *Handler) runFallback(persistCtx context.Context, key string, rec domain.JobRecord) (domain.JobRecord, error) {
	img, err := engine.SolidPNG(engine.FallbackSize, engine.FallbackSize, engine.FallbackColor)
	if err == nil {
		_, err = h.records.WriteArtifact(persistCtx, key, rec.ArtifactName(), img)
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", rec.JobID).Msg("renderer: placeholder write failed")
	}

	rec.Status = domain.JobStatusDispatchedSkeleton
	rec.Mode = domain.ModeSkeleton
	if rec.DispatchedAt == nil {
		rec.DispatchedAt = domain.Stamp(h.now())
	}
	if err := h.records.Write(persistCtx, key, &rec); err != nil {
		return rec, err
	}
	h.logger.Info().Str("job_id", rec.JobID).Str("job_type", string(rec.JobType)).Msg("renderer: job dispatched in skeleton mode")
	h.afterCommit(persistCtx, key, rec, nil, nil)
	return rec, nil
}

// afterCommit runs best-effort side effects of a persisted record.
func (h *Handler) afterCommit(ctx context.Context, key string, rec domain.JobRecord, artifact []byte, runErr error) {
	if h.mirror != nil && len(artifact) > 0 && rec.OutputImage != "" {
		objectKey := artifacts.ObjectKey(key, rec.OutputImage)
		meta := map[string]string{"job-id": rec.JobID, "job-type": string(rec.JobType), "mode": rec.Mode}
		if _, err := h.mirror.Upload(ctx, objectKey, artifact, artifacts.ContentType(rec.OutputImage), meta); err != nil {
			h.logger.Warn().Err(err).Str("job_id", rec.JobID).Str("object", objectKey).Msg("renderer: artifact mirror failed")
		}
	}
	if h.publisher != nil {
		h.publisher.Publish(rec)
	}
	attempt := ledger.Attempt{
		JobID:     rec.JobID,
		JobFolder: rec.JobFolder,
		JobType:   rec.JobType,
		Source:    ledger.SourceRenderer,
		Outcome:   string(rec.Status),
	}
	if runErr != nil {
		attempt.ErrorCode = "engine_failed"
		attempt.Detail = runErr.Error()
	}
	if err := h.ledger.Record(ctx, attempt); err != nil {
		h.logger.Warn().Err(err).Str("job_id", rec.JobID).Msg("renderer: ledger write failed")
	}
}
