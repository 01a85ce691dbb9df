package store

import (
	"context"

	"github.com/oklog/ulid/v2"

	"inferd/pkg/types"
)

// Job lifecycle statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Store records batch runs for later inspection via GET /jobs.
type Store interface {
	// CreateJob inserts a new job record in the running state.
	CreateJob(ctx context.Context, rec types.JobRecord) error
	// FinishJob marks a job finished with its final outcome.
	FinishJob(ctx context.Context, id, status string, completed int, errMsg string, durationMS, finishedAt int64) error
	// GetJob retrieves a job by ID; ErrNotFound when absent.
	GetJob(ctx context.Context, id string) (types.JobRecord, error)
	// ListJobs returns a page of jobs ordered newest first, plus the total
	// count of all jobs.
	ListJobs(ctx context.Context, limit, offset int) ([]types.JobRecord, int, error)
	// Close releases the underlying resources.
	Close() error
}

// NewID generates a new ULID string for use as a job identifier.
func NewID() string {
	return ulid.Make().String()
}
