package jobs

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"renderstudio/internal/storage"
)

// DateLayout is the layout of the per-day directory under the outputs root.
const DateLayout = "2006-01-02"

// Allocator creates unique job folders of the form <root>/<YYYY-MM-DD>/<id>.
type Allocator struct {
	store *storage.FileStore
	now   func() time.Time
	newID func() string
}

// NewAllocator builds an Allocator over the outputs root.
func NewAllocator(store *storage.FileStore) *Allocator {
	return &Allocator{store: store, now: time.Now, newID: NewJobID}
}

// WithClock overrides the clock used to pick the date directory.
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	if now != nil {
		a.now = now
	}
	return a
}

// NewJobID returns a random UUID rendered as 32 lowercase hex characters.
func NewJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Allocate creates a fresh job folder and returns its absolute path together
// with the job id. The leaf directory is created exclusively so an existing
// folder is never handed out twice.
func (a *Allocator) Allocate(ctx context.Context) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	jobID := a.newID()
	key := path.Join(a.now().Format(DateLayout), jobID)
	folder, err := a.store.MkdirExclusive(key)
	if err != nil {
		return "", "", fmt.Errorf("allocate job folder: %w", err)
	}
	return folder, jobID, nil
}
