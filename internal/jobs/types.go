// Package jobs defines the async task model: statement ingestion and
// recurring detection run in the background, tracked by a store so the API
// can report progress.
package jobs

import (
	"context"
	"time"
)

// JobType identifies what a task does.
type JobType string

const (
	// JobTypeIngestStatement imports an uploaded statement file.
	JobTypeIngestStatement JobType = "ingest_statement"
	// JobTypeDetectRecurring recomputes an organisation's subscription set.
	JobTypeDetectRecurring JobType = "detect_recurring"
)

// JobStatus is the lifecycle state of a task.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// Task is one unit of background work.
type Task struct {
	JobID string  `json:"job_id"`
	Type  JobType `json:"type"`

	// OrgID scopes the task; every task belongs to one organisation.
	OrgID string `json:"org_id"`

	// DocumentID and GCSURI identify the statement file for ingestion tasks.
	DocumentID string `json:"document_id,omitempty"`
	GCSURI     string `json:"gcs_uri,omitempty"`

	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error string `json:"error,omitempty"`

	// Result is the handler's outcome summary, shape depends on Type.
	Result any `json:"result,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Publisher enqueues tasks. Implementations may be in-memory, Cloud Tasks or
// Pub/Sub.
type Publisher interface {
	Publish(ctx context.Context, task *Task) error
	Close() error
}

// Consumer pulls tasks and runs them through a handler.
type Consumer interface {
	// Start begins consuming. The handler is called for each task.
	Start(ctx context.Context, handler Handler) error

	// Stop stops consuming and waits for in-flight tasks.
	Stop(ctx context.Context) error
}

// Handler processes one task. A returned error marks the task failed and
// eligible for retry.
type Handler func(ctx context.Context, task *Task) error

// TaskStore tracks task state so status survives across queue hops.
type TaskStore interface {
	SaveTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, jobID string) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	UpdateTaskStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// TaskFilter narrows a task listing. Zero values mean "no constraint".
type TaskFilter struct {
	OrgID      string
	DocumentID string
	Type       JobType
	Status     JobStatus
	Limit      int
	Offset     int
}
