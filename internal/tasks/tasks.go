package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a task handle's lifecycle phase.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Task is a pollable handle for background work. The acceptance response
// returns only the ID; callers poll for the outcome instead of expecting
// errors from the synchronous response.
type Task struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Registry launches background tasks and retains their handles for polling.
type Registry struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewRegistry builds an empty task registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tasks:  make(map[string]*Task),
		logger: logger,
	}
}

// Launch starts fn on its own goroutine and returns the handle immediately.
// The function's return value becomes the task result; a panic marks the
// task failed without taking the process down.
func (r *Registry) Launch(ctx context.Context, kind string, fn func(ctx context.Context) (any, error)) *Task {
	task := &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     StatePending,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("task panicked", "task_id", task.ID, "kind", kind, "panic", p)
				r.finish(task.ID, nil, fmt.Errorf("panic: %v", p))
			}
		}()

		r.mu.Lock()
		task.State = StateRunning
		task.StartedAt = time.Now()
		r.mu.Unlock()

		r.logger.Info("task started", "task_id", task.ID, "kind", kind)
		result, err := fn(ctx)
		r.finish(task.ID, result, err)
	}()

	return task
}

func (r *Registry) finish(id string, result any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return
	}

	task.FinishedAt = time.Now()
	if err != nil {
		task.State = StateFailed
		task.Error = err.Error()
		r.logger.Warn("task failed", "task_id", id, "kind", task.Kind, "error", err)
	} else {
		task.State = StateCompleted
		task.Result = result
		r.logger.Info("task completed", "task_id", id, "kind", task.Kind)
	}
}

// Get returns a snapshot of the task, or false when unknown.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Wait blocks until every launched task has finished. Used on shutdown.
func (r *Registry) Wait() {
	r.wg.Wait()
}
