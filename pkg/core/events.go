package core

import "time"

// Event is the interface for all lifecycle events.
type Event interface {
	eventMarker()
}

// JobStarted is emitted when a job starts executing.
type JobStarted struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobProgress is emitted each time a running job reports progress.
type JobProgress struct {
	JobID     string
	Percent   int
	Stage     string
	Timestamp time.Time
}

func (*JobProgress) eventMarker() {}

// JobCompleted is emitted when a job completes successfully.
type JobCompleted struct {
	Job       *Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job fails permanently.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobRetrying is emitted when a failed job is scheduled for another attempt.
type JobRetrying struct {
	Job       *Job
	Attempt   int
	Error     error
	NextRunAt time.Time
	Timestamp time.Time
}

func (*JobRetrying) eventMarker() {}

// JobCancelled is emitted when a job is cancelled.
type JobCancelled struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobCancelled) eventMarker() {}
