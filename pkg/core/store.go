package core

import (
	"context"
)

// Store defines the persistence layer for jobs.
//
// Every status write is a single-record transaction; no cross-job
// transaction is required. Implementations must make MarkRetrying persist
// the error message and the incremented retry count atomically with the
// status write so a crash cannot produce an inconsistent retry count.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Create persists a new pending job and returns its id.
	Create(ctx context.Context, job *Job) (string, error)

	// Get returns the job or ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*Job, error)

	// ListByStatus returns jobs in any of the given statuses ordered by
	// priority descending, creation time ascending. limit <= 0 means no limit.
	ListByStatus(ctx context.Context, statuses []JobStatus, limit int) ([]*Job, error)

	// Status transitions. Each validates nothing beyond the record existing;
	// transition legality is the coordinator's responsibility.
	MarkRunning(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string, result []byte) error
	MarkRetrying(ctx context.Context, jobID string, errMsg string) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
	MarkPending(ctx context.Context, jobID string) error
	MarkCancelled(ctx context.Context, jobID string) error

	// Progress
	UpdateProgress(ctx context.Context, jobID string, percent int, stage string) error
	AppendProgress(ctx context.Context, entry *ProgressEntry) error
	GetProgress(ctx context.Context, jobID string) ([]ProgressEntry, error)

	// ResetRunning flips every running job back to pending with progress
	// cleared. Run once at startup before dispatch begins.
	ResetRunning(ctx context.Context) (int64, error)

	// CountByStatus returns the number of jobs in the given status.
	CountByStatus(ctx context.Context, status JobStatus) (int64, error)
}
