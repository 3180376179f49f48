package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jstachowiak/opsledger/internal/jobs"
)

// Store is an in-memory TaskStore. Safe for concurrent use; state is lost on
// restart.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*jobs.Task
}

func NewStore() *Store {
	return &Store{
		tasks: make(map[string]*jobs.Task),
	}
}

// SaveTask saves or updates a task. Stored values are copies so callers
// cannot mutate them afterwards.
func (s *Store) SaveTask(ctx context.Context, task *jobs.Task) error {
	if task.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	taskCopy := *task
	s.tasks[task.JobID] = &taskCopy
	return nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, jobID string) (*jobs.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[jobID]
	if !exists {
		return nil, fmt.Errorf("task not found: %s", jobID)
	}

	taskCopy := *task
	return &taskCopy, nil
}

// ListTasks retrieves tasks matching the filter.
func (s *Store) ListTasks(ctx context.Context, filter jobs.TaskFilter) ([]*jobs.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.Task
	for _, task := range s.tasks {
		if filter.OrgID != "" && task.OrgID != filter.OrgID {
			continue
		}
		if filter.DocumentID != "" && task.DocumentID != filter.DocumentID {
			continue
		}
		if filter.Type != "" && task.Type != filter.Type {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		taskCopy := *task
		result = append(result, &taskCopy)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.Task{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// UpdateTaskStatus updates the status of a stored task.
func (s *Store) UpdateTaskStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[jobID]
	if !exists {
		return fmt.Errorf("task not found: %s", jobID)
	}

	task.Status = status
	if errorMsg != "" {
		task.Error = errorMsg
	}
	return nil
}

var _ jobs.TaskStore = (*Store)(nil)
