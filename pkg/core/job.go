package core

import (
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusRetrying  JobStatus = "retrying"  // Waiting out a backoff delay
	StatusCancelled JobStatus = "cancelled" // Terminated before completion
)

// IsTerminal reports whether the status is final. Terminal jobs are immutable.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job represents a unit of work to be processed.
//
// A job has exactly one mutable owner at a time: the queue while pending,
// a single execution task while running, nobody once terminal. Only the
// coordinator writes status transitions; executors report progress and
// results through the coordinator's callback.
type Job struct {
	ID              string    `gorm:"primaryKey;size:36"`
	Type            string    `gorm:"index;size:255;not null"`
	PayloadRef      string    `gorm:"size:1024;not null"` // Reference to the work input, never embedded content
	Params          []byte    `gorm:"type:bytes"`
	Priority        int       `gorm:"index;default:0"` // Higher runs first
	Status          JobStatus `gorm:"index;size:20;default:'pending'"`
	RetryCount      int       `gorm:"default:0"`
	MaxRetries      int       `gorm:"default:3"`
	ProgressPercent int       `gorm:"default:0"`
	Stage           string    `gorm:"size:255"`
	LastError       string    `gorm:"type:text"`
	Result          []byte    `gorm:"type:bytes"`
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// ProgressEntry is one persisted progress report from a running job.
type ProgressEntry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	JobID     string    `gorm:"index;size:36;not null"`
	Percent   int       `gorm:"not null"`
	Stage     string    `gorm:"size:255"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
