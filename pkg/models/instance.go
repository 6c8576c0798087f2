package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// TaskStatus represents the lifecycle state of one task within an instance.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Owner identifies who started an instance.
type Owner struct {
	UserID    string `json:"user_id,omitempty"`
	Workspace string `json:"workspace,omitempty"`
}

// ExecutionError records one workflow-level failure.
type ExecutionError struct {
	TaskID    string    `json:"task_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Checkpoint is a point-in-time snapshot of the instance context and the set
// of tasks completed when a level finished.
type Checkpoint struct {
	Level          int            `json:"level"`
	Context        map[string]any `json:"context"`
	CompletedTasks []string       `json:"completed_tasks"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TaskState is the mutable execution record of one TaskSpec. Mutations must
// go through WorkflowInstance.UpdateTask so concurrent readers (status
// reports, checkpoints) see a consistent view.
type TaskState struct {
	TaskSpec

	Status     TaskStatus `json:"status"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewTaskState clones a spec into a pending execution record. Branch tasks of
// decision tasks get transient states through the same constructor.
func NewTaskState(spec TaskSpec) *TaskState {
	return &TaskState{TaskSpec: spec, Status: TaskStatusPending}
}

// WorkflowInstance is one execution derived from a template. The mutex
// serializes status transitions and task-state updates against concurrent
// readers; instances must never be copied by value.
type WorkflowInstance struct {
	mu sync.RWMutex

	ID           string           `json:"id"`
	TemplateID   string           `json:"template_id"`
	TemplateName string           `json:"template_name"`
	Status       InstanceStatus   `json:"status"`
	Context      *ContextStore    `json:"context"`
	Tasks        []*TaskState     `json:"tasks"`
	Checkpoints  []Checkpoint     `json:"checkpoints,omitempty"`
	Errors       []ExecutionError `json:"errors,omitempty"`
	Owner        Owner            `json:"owner"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
}

// NewWorkflowInstance clones the template task list into fresh pending task
// states and seeds the context with the template variables overlaid by a
// shallow copy of the start input. Input wins key collisions.
func NewWorkflowInstance(tmpl *WorkflowTemplate, input map[string]any, owner Owner) *WorkflowInstance {
	seed := make(map[string]any, len(tmpl.Variables)+len(input))
	for k, v := range tmpl.Variables {
		seed[k] = v
	}

	for k, v := range input {
		seed[k] = v
	}

	tasks := make([]*TaskState, 0, len(tmpl.Tasks))
	for _, spec := range tmpl.Tasks {
		tasks = append(tasks, NewTaskState(spec))
	}

	return &WorkflowInstance{
		ID:           uuid.New().String(),
		TemplateID:   tmpl.ID,
		TemplateName: tmpl.Name,
		Status:       InstanceStatusRunning,
		Context:      NewContextStore(seed),
		Tasks:        tasks,
		Owner:        owner,
		StartedAt:    time.Now().UTC(),
	}
}

func (wi *WorkflowInstance) CurrentStatus() InstanceStatus {
	wi.mu.RLock()
	defer wi.mu.RUnlock()

	return wi.Status
}

// UpdateTask applies fn to ts under the instance lock. ts may be a top-level
// task state or a transient branch task state.
func (wi *WorkflowInstance) UpdateTask(ts *TaskState, fn func(*TaskState)) {
	wi.mu.Lock()
	defer wi.mu.Unlock()

	fn(ts)
}

// MarkCompleted transitions Running to Completed and stamps the end time.
// Returns false when the instance is already terminal.
func (wi *WorkflowInstance) MarkCompleted() bool {
	return wi.finish(InstanceStatusCompleted, nil)
}

// MarkFailed transitions Running to Failed and records the failure. Returns
// false when the instance is already terminal, in which case no error is
// appended and the terminal status stands.
func (wi *WorkflowInstance) MarkFailed(taskID, message string) bool {
	execErr := &ExecutionError{
		TaskID:    taskID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	return wi.finish(InstanceStatusFailed, execErr)
}

// MarkCancelled transitions Running to Cancelled. Returns false when the
// instance is already terminal.
func (wi *WorkflowInstance) MarkCancelled() bool {
	return wi.finish(InstanceStatusCancelled, nil)
}

func (wi *WorkflowInstance) finish(status InstanceStatus, execErr *ExecutionError) bool {
	wi.mu.Lock()
	defer wi.mu.Unlock()

	if wi.Status != InstanceStatusRunning {
		return false
	}

	now := time.Now().UTC()
	wi.Status = status
	wi.FinishedAt = &now

	if execErr != nil {
		wi.Errors = append(wi.Errors, *execErr)
	}

	return true
}

// AddCheckpoint appends cp, trimming to the newest max entries when max > 0.
func (wi *WorkflowInstance) AddCheckpoint(cp Checkpoint, max int) {
	wi.mu.Lock()
	defer wi.mu.Unlock()

	wi.Checkpoints = append(wi.Checkpoints, cp)
	if max > 0 && len(wi.Checkpoints) > max {
		wi.Checkpoints = wi.Checkpoints[len(wi.Checkpoints)-max:]
	}
}

// CompletedTaskIDs returns the ids of top-level tasks completed so far, in
// template order.
func (wi *WorkflowInstance) CompletedTaskIDs() []string {
	wi.mu.RLock()
	defer wi.mu.RUnlock()

	ids := make([]string, 0, len(wi.Tasks))

	for _, ts := range wi.Tasks {
		if ts.Status == TaskStatusCompleted {
			ids = append(ids, ts.ID)
		}
	}

	return ids
}

// Progress returns the percentage of top-level tasks completed.
func (wi *WorkflowInstance) Progress() float64 {
	wi.mu.RLock()
	defer wi.mu.RUnlock()

	if len(wi.Tasks) == 0 {
		return 0
	}

	completed := 0

	for _, ts := range wi.Tasks {
		if ts.Status == TaskStatusCompleted {
			completed++
		}
	}

	return float64(completed) / float64(len(wi.Tasks)) * 100
}

// Duration returns the elapsed run time, frozen once the instance finished.
func (wi *WorkflowInstance) Duration() time.Duration {
	wi.mu.RLock()
	defer wi.mu.RUnlock()

	if wi.FinishedAt != nil {
		return wi.FinishedAt.Sub(wi.StartedAt)
	}

	return time.Since(wi.StartedAt)
}

// Snapshot returns a copy of the instance that is safe to read without
// locking. Task states are value copies and the context is detached.
func (wi *WorkflowInstance) Snapshot() *WorkflowInstance {
	wi.mu.RLock()
	defer wi.mu.RUnlock()

	out := &WorkflowInstance{
		ID:           wi.ID,
		TemplateID:   wi.TemplateID,
		TemplateName: wi.TemplateName,
		Status:       wi.Status,
		Context:      NewContextStore(wi.Context.Snapshot()),
		Owner:        wi.Owner,
		StartedAt:    wi.StartedAt,
	}

	if wi.FinishedAt != nil {
		finished := *wi.FinishedAt
		out.FinishedAt = &finished
	}

	out.Tasks = make([]*TaskState, 0, len(wi.Tasks))

	for _, ts := range wi.Tasks {
		clone := *ts
		out.Tasks = append(out.Tasks, &clone)
	}

	out.Checkpoints = append([]Checkpoint(nil), wi.Checkpoints...)
	out.Errors = append([]ExecutionError(nil), wi.Errors...)

	return out
}
