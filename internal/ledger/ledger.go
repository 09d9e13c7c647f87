// Package ledger keeps an audit trail of dispatch attempts in Postgres.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"renderstudio/internal/domain"
	"renderstudio/internal/infra"
	"renderstudio/internal/sqlinline"
)

// Sources of an attempt.
const (
	SourcePlanner  = "planner"
	SourceRenderer = "renderer"
)

// Attempt is one dispatch or render outcome.
type Attempt struct {
	ID          uuid.UUID      `json:"id"`
	JobID       string         `json:"job_id"`
	JobFolder   string         `json:"job_folder"`
	JobType     domain.JobType `json:"job_type"`
	Source      string         `json:"source"`
	Outcome     string         `json:"outcome"`
	ErrorCode   string         `json:"error_code,omitempty"`
	StatusCode  int            `json:"status_code,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	AttemptedAt time.Time      `json:"attempted_at"`
}

// Recorder persists attempts.
type Recorder interface {
	Record(ctx context.Context, attempt Attempt) error
}

// Nop discards attempts; used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, Attempt) error { return nil }

// Ledger stores attempts through the marker-enforcing SQL executor.
type Ledger struct {
	db  infra.SQLExecutor
	now func() time.Time
}

// New returns a Ledger over db.
func New(db infra.SQLExecutor) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// EnsureSchema creates the attempts table when missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, sqlinline.QLedgerEnsureSchema); err != nil {
		return fmt.Errorf("ledger: ensure schema: %w", err)
	}
	return nil
}

// Record inserts an attempt, filling ID and AttemptedAt when unset.
func (l *Ledger) Record(ctx context.Context, a Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = l.now().UTC()
	}
	_, err := l.db.Exec(ctx, sqlinline.QLedgerInsertAttempt,
		a.ID, a.JobID, a.JobFolder, string(a.JobType), a.Source, a.Outcome,
		a.ErrorCode, a.StatusCode, a.Detail, a.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger: record attempt: %w", err)
	}
	return nil
}

// Attempts lists the attempts of one job oldest first.
func (l *Ledger) Attempts(ctx context.Context, jobID string) ([]Attempt, error) {
	rows, err := l.db.Query(ctx, sqlinline.QLedgerListAttempts, jobID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a       Attempt
			jobType string
		)
		if err := rows.Scan(&a.ID, &a.JobID, &a.JobFolder, &jobType, &a.Source, &a.Outcome,
			&a.ErrorCode, &a.StatusCode, &a.Detail, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan attempt: %w", err)
		}
		a.JobType = domain.JobType(jobType)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate attempts: %w", err)
	}
	return out, nil
}

// OutcomeCounts tallies attempts per outcome since the given time.
func (l *Ledger) OutcomeCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := l.db.Query(ctx, sqlinline.QLedgerCountOutcomes, since)
	if err != nil {
		return nil, fmt.Errorf("ledger: count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			outcome string
			n       int64
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("ledger: scan outcome: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
