package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/durable-dispatch/pkg/core"
)

// GormStore implements core.Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &core.ProgressEntry{})
}

// Create persists a new job record.
func (s *GormStore) Create(ctx context.Context, job *core.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusPending
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return "", err
	}
	return job.ID, nil
}

// Get retrieves a job by ID.
func (s *GormStore) Get(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByStatus returns jobs in any of the given statuses, highest priority
// first, oldest first within a priority.
func (s *GormStore) ListByStatus(ctx context.Context, statuses []core.JobStatus, limit int) ([]*core.Job, error) {
	var jobs []*core.Job
	q := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("priority DESC, created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

// MarkRunning transitions a pending job to running and records the start
// time.
func (s *GormStore) MarkRunning(ctx context.Context, jobID string) error {
	now := time.Now()
	return s.transition(ctx, jobID, []core.JobStatus{core.StatusPending}, map[string]any{
		"status":     core.StatusRunning,
		"started_at": now,
	})
}

// MarkCompleted transitions a running job to completed with its result.
func (s *GormStore) MarkCompleted(ctx context.Context, jobID string, result []byte) error {
	now := time.Now()
	return s.transition(ctx, jobID, []core.JobStatus{core.StatusRunning}, map[string]any{
		"status":           core.StatusCompleted,
		"result":           result,
		"progress_percent": 100,
		"completed_at":     now,
	})
}

// MarkRetrying transitions a running job to retrying. The error message
// and the incremented retry count are written in the same statement as the
// status, so a crash cannot leave the count out of step with the
// transition.
func (s *GormStore) MarkRetrying(ctx context.Context, jobID string, errMsg string) error {
	return s.transition(ctx, jobID, []core.JobStatus{core.StatusRunning}, map[string]any{
		"status":      core.StatusRetrying,
		"last_error":  core.SanitizeErrorMessage(errMsg),
		"retry_count": gorm.Expr("retry_count + 1"),
	})
}

// MarkFailed transitions a job to failed (terminal).
func (s *GormStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	now := time.Now()
	return s.transition(ctx, jobID, []core.JobStatus{core.StatusPending, core.StatusRunning}, map[string]any{
		"status":       core.StatusFailed,
		"last_error":   core.SanitizeErrorMessage(errMsg),
		"completed_at": now,
	})
}

// MarkPending returns a job to the pending state with progress cleared.
// Used when a retry delay elapses and when a remote assignment is rolled
// back.
func (s *GormStore) MarkPending(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, []core.JobStatus{core.StatusRetrying, core.StatusRunning}, map[string]any{
		"status":           core.StatusPending,
		"progress_percent": 0,
		"stage":            "",
		"started_at":       nil,
	})
}

// MarkCancelled transitions a non-terminal job to cancelled (terminal).
func (s *GormStore) MarkCancelled(ctx context.Context, jobID string) error {
	now := time.Now()
	nonTerminal := []core.JobStatus{core.StatusPending, core.StatusRunning, core.StatusRetrying}
	return s.transition(ctx, jobID, nonTerminal, map[string]any{
		"status":       core.StatusCancelled,
		"completed_at": now,
	})
}

// UpdateProgress stores the latest progress snapshot on the job record.
func (s *GormStore) UpdateProgress(ctx context.Context, jobID string, percent int, stage string) error {
	return s.update(ctx, jobID, map[string]any{
		"progress_percent": core.ClampProgress(percent),
		"stage":            stage,
	})
}

// AppendProgress records one progress report in the progress log.
func (s *GormStore) AppendProgress(ctx context.Context, entry *core.ProgressEntry) error {
	entry.Percent = core.ClampProgress(entry.Percent)
	return s.db.WithContext(ctx).Create(entry).Error
}

// GetProgress returns the full progress log for a job, oldest first.
func (s *GormStore) GetProgress(ctx context.Context, jobID string) ([]core.ProgressEntry, error) {
	var entries []core.ProgressEntry
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// ResetRunning flips every running job back to pending with progress
// cleared. The previous owner is presumed dead.
func (s *GormStore) ResetRunning(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("status = ?", core.StatusRunning).
		Updates(map[string]any{
			"status":           core.StatusPending,
			"progress_percent": 0,
			"stage":            "",
			"started_at":       nil,
		})
	return result.RowsAffected, result.Error
}

// CountByStatus returns the number of jobs in the given status.
func (s *GormStore) CountByStatus(ctx context.Context, status core.JobStatus) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

func (s *GormStore) update(ctx context.Context, jobID string, fields map[string]any) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

// transition writes a status change guarded by the set of states it is
// legal from. A write that matches no row distinguishes a missing job
// from one whose status moved concurrently; callers treat the latter as a
// lost race and skip.
func (s *GormStore) transition(ctx context.Context, jobID string, from []core.JobStatus, fields map[string]any) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status IN ?", jobID, from).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&core.Job{}).
			Where("id = ?", jobID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return core.ErrJobNotFound
		}
		return core.ErrStaleTransition
	}
	return nil
}
