// Package models defines the core domain models for template-driven workflow execution.
package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// TaskType identifies which capability provider executes a task.
type TaskType string

const (
	TaskTypeAgent      TaskType = "agent"
	TaskTypeCompletion TaskType = "ai_completion"
	TaskTypeCustom     TaskType = "custom"
	TaskTypeDecision   TaskType = "decision"
)

// Defaults applied to ai_completion tasks that leave provider options unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// WorkflowTemplate is an immutable named task-graph definition. Templates are
// validated at registration and never mutated afterwards; every start clones
// the task list into a fresh instance.
type WorkflowTemplate struct {
	ID          string         `json:"id"          validate:"required"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description,omitempty"`
	Tasks       []TaskSpec     `json:"tasks"       validate:"required,min=1,dive"`
	Variables   map[string]any `json:"variables,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TaskSpec describes one unit of work inside a template. Input may be a
// string template (interpolated against the instance context) or any
// structured value, which passes through untouched. Config carries
// type-specific settings: the agent kind, completion provider options, or
// the custom function name.
type TaskSpec struct {
	ID           string         `json:"id"   validate:"required"`
	Name         string         `json:"name,omitempty"`
	Type         TaskType       `json:"type" validate:"required,oneof=agent ai_completion custom decision"`
	Input        any            `json:"input,omitempty"`
	Output       string         `json:"output,omitempty"`
	DependsOn    []string       `json:"depends_on,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	Condition    string         `json:"condition,omitempty"`
	TrueBranch   []TaskSpec     `json:"true_branch,omitempty"    validate:"omitempty,dive"`
	FalseBranch  []TaskSpec     `json:"false_branch,omitempty"   validate:"omitempty,dive"`
	MaxRetries   int            `json:"max_retries,omitempty"    validate:"min=0"`
	RetryDelayMs int            `json:"retry_delay_ms,omitempty" validate:"min=0"`

	// Parallel is informational only. The scheduler already runs a whole
	// level concurrently and never consults this flag.
	Parallel bool `json:"parallel,omitempty"`
}

// CompletionSettings carries the provider options of an ai_completion task.
type CompletionSettings struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// AgentKind returns the agent kind passed to the AgentExecutor, falling back
// to the task name, then the task id.
func (t *TaskSpec) AgentKind() string {
	if kind, ok := t.Config["agent"].(string); ok && kind != "" {
		return kind
	}

	if t.Name != "" {
		return t.Name
	}

	return t.ID
}

// FunctionName returns the custom function name passed to the
// FunctionRegistry, falling back to the task name, then the task id.
func (t *TaskSpec) FunctionName() string {
	if name, ok := t.Config["function"].(string); ok && name != "" {
		return name
	}

	if t.Name != "" {
		return t.Name
	}

	return t.ID
}

// Completion reads the provider options from the task config, applying the
// documented defaults for temperature and max tokens.
func (t *TaskSpec) Completion() CompletionSettings {
	settings := CompletionSettings{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}

	if provider, ok := t.Config["provider"].(string); ok {
		settings.Provider = provider
	}

	if model, ok := t.Config["model"].(string); ok {
		settings.Model = model
	}

	if temperature, ok := configFloat(t.Config["temperature"]); ok {
		settings.Temperature = temperature
	}

	if maxTokens, ok := configInt(t.Config["max_tokens"]); ok {
		settings.MaxTokens = maxTokens
	}

	return settings
}

// RetryDelay returns the per-task linear-backoff base, or fallback when the
// task does not set one.
func (t *TaskSpec) RetryDelay(fallback time.Duration) time.Duration {
	if t.RetryDelayMs > 0 {
		return time.Duration(t.RetryDelayMs) * time.Millisecond
	}

	return fallback
}

var validate = validator.New()

// Validate checks the structural integrity of a template definition.
// Graph-level checks (dangling references, cycles) live in pkg/graph and run
// as part of registration.
func (w *WorkflowTemplate) Validate() error {
	return validate.Struct(w)
}

// Config values decoded from JSON arrive as float64; values built in Go may
// be typed numbers.
func configFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func configInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
