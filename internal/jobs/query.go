package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"renderstudio/internal/domain"
	"renderstudio/pkg/zip"
)

var jobIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// QueryService answers read-only questions about persisted jobs.
type QueryService struct {
	records *RecordStore
	logger  zerolog.Logger
}

// NewQueryService constructs a QueryService.
func NewQueryService(records *RecordStore, logger zerolog.Logger) *QueryService {
	return &QueryService{records: records, logger: logger}
}

// ValidDate reports whether date is a YYYY-MM-DD calendar date.
func ValidDate(date string) bool {
	if len(date) != len(DateLayout) {
		return false
	}
	_, err := time.Parse(DateLayout, date)
	return err == nil
}

// ValidJobID reports whether id is a 32 character lowercase hex job id.
func ValidJobID(id string) bool {
	return jobIDPattern.MatchString(id)
}

// List returns the summaries of every readable job created on date, ordered
// by job id. Folders with a missing or corrupt record are skipped.
func (q *QueryService) List(ctx context.Context, date string) ([]domain.JobSummary, error) {
	if !ValidDate(date) {
		return nil, fmt.Errorf("%w: date %q", domain.ErrInvalidQuery, date)
	}
	entries, err := q.records.Files().ReadDir(date)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.JobSummary{}, nil
		}
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	summaries := make([]domain.JobSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := q.records.Read(ctx, path.Join(date, entry.Name()))
		if err != nil {
			q.logger.Warn().Err(err).Str("date", date).Str("job_id", entry.Name()).Msg("jobs: skipping unreadable job")
			continue
		}
		summary := rec.Summary()
		if summary.JobID == "" {
			summary.JobID = entry.Name()
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].JobID < summaries[j].JobID })
	return summaries, nil
}

// Get returns the full record of one job.
func (q *QueryService) Get(ctx context.Context, date, jobID string) (domain.JobRecord, error) {
	key, err := q.folderKey(date, jobID)
	if err != nil {
		return domain.JobRecord{}, err
	}
	return q.records.Read(ctx, key)
}

// Artifact returns the bytes of the file the job names as its planned output.
func (q *QueryService) Artifact(ctx context.Context, date, jobID string) ([]byte, string, error) {
	rec, err := q.Get(ctx, date, jobID)
	if err != nil {
		return nil, "", err
	}
	name := rec.ArtifactName()
	data, err := q.records.ReadArtifact(ctx, path.Join(date, jobID), name)
	if err != nil {
		return nil, "", err
	}
	return data, name, nil
}

// Export collects the record and artifact of every readable job of date as
// archive entries under <job_id>/. Jobs without an artifact contribute only
// their record.
func (q *QueryService) Export(ctx context.Context, date string) ([]zip.Entry, error) {
	summaries, err := q.List(ctx, date)
	if err != nil {
		return nil, err
	}
	entries := make([]zip.Entry, 0, 2*len(summaries))
	for _, summary := range summaries {
		key := path.Join(date, summary.JobID)
		meta, err := q.records.Files().Read(ctx, path.Join(key, RecordFile))
		if err != nil {
			q.logger.Warn().Err(err).Str("job_id", summary.JobID).Msg("jobs: export skipping record")
			continue
		}
		modified := time.Now().UTC()
		if summary.CreatedAt != nil {
			modified = *summary.CreatedAt
		}
		entries = append(entries, zip.Entry{Name: path.Join(summary.JobID, RecordFile), Data: meta, Modified: modified})

		name := summary.PlannedOutput
		if name == "" {
			name = domain.DefaultPlannedOutput
		}
		data, err := q.records.ReadArtifact(ctx, key, name)
		if err != nil {
			if !errors.Is(err, domain.ErrArtifactNotFound) {
				q.logger.Warn().Err(err).Str("job_id", summary.JobID).Msg("jobs: export skipping artifact")
			}
			continue
		}
		entries = append(entries, zip.Entry{Name: path.Join(summary.JobID, name), Data: data, Modified: modified})
	}
	return entries, nil
}

func (q *QueryService) folderKey(date, jobID string) (string, error) {
	if !ValidDate(date) {
		return "", fmt.Errorf("%w: date %q", domain.ErrInvalidQuery, date)
	}
	if !ValidJobID(jobID) {
		return "", fmt.Errorf("%w: job id %q", domain.ErrInvalidQuery, jobID)
	}
	key := path.Join(date, jobID)
	if !q.records.Files().IsDir(key) {
		return "", fmt.Errorf("%w: %s", domain.ErrJobNotFound, key)
	}
	return key, nil
}
