// Package events defines event types and structures for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/echelonflow/echelon/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic is the channel all lifecycle events are published on.
const Topic = "echelon.lifecycle"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Instance lifecycle events.
	InstanceStartedEvent   EventType = "instance-started"
	InstanceCompletedEvent EventType = "instance-completed"
	InstanceFailedEvent    EventType = "instance-failed"
	InstanceCancelledEvent EventType = "instance-cancelled"

	// Task lifecycle events.
	TaskStartedEvent   EventType = "task-started"
	TaskCompletedEvent EventType = "task-completed"
	TaskFailedEvent    EventType = "task-failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instance_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type InstanceStarted struct {
	BaseEvent

	TemplateID   string         `json:"template_id"`
	TemplateName string         `json:"template_name"`
	Input        map[string]any `json:"input,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	Workspace    string         `json:"workspace,omitempty"`
}

func (i InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceCompleted struct {
	BaseEvent

	TemplateID string         `json:"template_id"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (i InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceFailed struct {
	BaseEvent

	TemplateID string `json:"template_id"`
	TaskID     string `json:"task_id"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

func (i InstanceFailed) GetType() EventType {
	return InstanceFailedEvent
}

type InstanceCancelled struct {
	BaseEvent

	TemplateID string `json:"template_id"`
	DurationMs int64  `json:"duration_ms"`
}

func (i InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}

// Task lifecycle events

type TaskStarted struct {
	BaseEvent

	TaskID   string          `json:"task_id"`
	TaskName string          `json:"task_name"`
	TaskType models.TaskType `json:"task_type"`
}

func (t TaskStarted) GetType() EventType {
	return TaskStartedEvent
}

type TaskCompleted struct {
	BaseEvent

	TaskID     string          `json:"task_id"`
	TaskType   models.TaskType `json:"task_type"`
	Result     any             `json:"result,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

func (t TaskCompleted) GetType() EventType {
	return TaskCompletedEvent
}

type TaskFailed struct {
	BaseEvent

	TaskID     string          `json:"task_id"`
	TaskType   models.TaskType `json:"task_type"`
	Error      string          `json:"error"`
	Attempts   int             `json:"attempts"`
	DurationMs int64           `json:"duration_ms"`
}

func (t TaskFailed) GetType() EventType {
	return TaskFailedEvent
}

func NewBaseEvent(eventType EventType, instanceID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
		Metadata:   make(map[string]any),
	}
}
