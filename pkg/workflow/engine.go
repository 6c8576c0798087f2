// Package workflow implements the level-driven execution engine for workflow
// instances: scheduling, retries, checkpointing and lifecycle events.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/echelonflow/echelon/pkg/conditions"
	"github.com/echelonflow/echelon/pkg/eventbus"
	"github.com/echelonflow/echelon/pkg/events"
	"github.com/echelonflow/echelon/pkg/graph"
	"github.com/echelonflow/echelon/pkg/models"
	"github.com/echelonflow/echelon/pkg/otelhelper"
	"github.com/echelonflow/echelon/pkg/protocol"
	"github.com/echelonflow/echelon/pkg/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Capabilities bundles the external providers tasks dispatch to. A nil
// provider fails tasks of the matching type at execution time.
type Capabilities struct {
	Agents      protocol.AgentExecutor
	Completions protocol.CompletionProvider
	Functions   protocol.FunctionRegistry
}

// Engine coordinates workflow execution: it resolves templates into level
// plans, fans tasks out per level, and finalizes instance status.
type Engine struct {
	templates    store.TemplateRegistry
	instances    store.InstanceStore
	capabilities Capabilities
	bus          eventbus.EventPublisher
	evaluator    *conditions.Evaluator
	logger       *slog.Logger
	tracer       trace.Tracer
	options      Options

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	sweeper *Sweeper
}

// NewEngine wires an engine over the given catalogs, capabilities and event
// publisher. When options enable sweeping, the sweeper starts immediately and
// runs until Shutdown.
func NewEngine(
	templates store.TemplateRegistry,
	instances store.InstanceStore,
	capabilities Capabilities,
	bus eventbus.EventPublisher,
	logger *slog.Logger,
	options Options,
) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "workflow_engine")

	engine := &Engine{
		templates:    templates,
		instances:    instances,
		capabilities: capabilities,
		bus:          bus,
		evaluator:    conditions.NewEvaluator(logger),
		logger:       logger,
		tracer:       otel.Tracer("echelon/workflow"),
		options:      options,
		cancels:      make(map[string]context.CancelFunc),
	}

	if options.SweepInterval > 0 {
		sweeper, err := NewSweeper(instances, logger, options.SweepInterval, options.Retention)
		if err != nil {
			return nil, fmt.Errorf("configure sweeper: %w", err)
		}

		sweeper.Start()
		engine.sweeper = sweeper
	}

	return engine, nil
}

// RegisterTemplate validates and stores a template, returning its id.
func (e *Engine) RegisterTemplate(ctx context.Context, template *models.WorkflowTemplate) (string, error) {
	id, err := e.templates.Register(ctx, template)
	if err != nil {
		return "", err
	}

	e.logger.InfoContext(ctx, "Template registered", "template_id", id, "tasks", len(template.Tasks))

	return id, nil
}

// ListTemplates returns every registered template.
func (e *Engine) ListTemplates(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	return e.templates.List(ctx)
}

// StartResult reports the outcome of a synchronously executed instance.
type StartResult struct {
	Success    bool                  `json:"success"`
	WorkflowID string                `json:"workflow_id"`
	Status     models.InstanceStatus `json:"status"`
	Output     map[string]any        `json:"output,omitempty"`
	Duration   time.Duration         `json:"duration"`
}

// Start creates an instance of the template, runs it level by level to
// completion and returns the final context as output. A task failure after
// its retry budget fails the whole instance and is returned as the error.
// Cancellation through Cancel ends the run without an error; the result
// carries the Cancelled status.
func (e *Engine) Start(ctx context.Context, templateID string, input map[string]any, owner models.Owner) (*StartResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start",
		attribute.String(otelhelper.TemplateIDKey, templateID),
	)
	defer span.End()

	template, err := e.templates.Lookup(ctx, templateID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	levels, err := graph.Levels(template.Tasks)
	if err != nil {
		// Registration validates the graph, so this only fires for templates
		// injected through a permissive registry implementation.
		err = store.NewTemplateError("Start", templateID, fmt.Errorf("%w: %w", store.ErrInvalidTemplate, err))
		otelhelper.SetError(span, err)

		return nil, err
	}

	instance := models.NewWorkflowInstance(template, input, owner)
	span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, instance.ID))

	if err := e.instances.Put(ctx, instance); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	runCtx, cancel := e.runContext(ctx)
	defer cancel()

	e.trackCancel(instance.ID, cancel)
	defer e.releaseCancel(instance.ID)

	e.logger.InfoContext(ctx, "Workflow instance started",
		"instance_id", instance.ID,
		"template_id", template.ID,
		"levels", len(levels),
	)
	e.publish(ctx, instance.ID, events.InstanceStarted{
		BaseEvent:    events.NewBaseEvent(events.InstanceStartedEvent, instance.ID),
		TemplateID:   template.ID,
		TemplateName: template.Name,
		Input:        input,
		UserID:       owner.UserID,
		Workspace:    owner.Workspace,
	})

	runErr := e.runLevels(runCtx, instance, levels)

	if instance.CurrentStatus() == models.InstanceStatusCancelled {
		// Cancel already recorded the transition and published the event.
		return e.result(instance), nil
	}

	if runErr != nil {
		e.failInstance(ctx, instance, template.ID, runErr)
		otelhelper.SetError(span, runErr)

		return nil, runErr
	}

	instance.MarkCompleted()

	result := e.result(instance)

	e.logger.InfoContext(ctx, "Workflow instance completed",
		"instance_id", instance.ID,
		"duration", result.Duration,
	)
	e.publish(ctx, instance.ID, events.InstanceCompleted{
		BaseEvent:  events.NewBaseEvent(events.InstanceCompletedEvent, instance.ID),
		TemplateID: template.ID,
		Output:     result.Output,
		DurationMs: result.Duration.Milliseconds(),
	})

	return result, nil
}

// runContext derives the execution context for one instance, applying the
// configured maximum duration when set.
func (e *Engine) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.options.MaxDuration > 0 {
		return context.WithTimeout(ctx, e.options.MaxDuration)
	}

	return context.WithCancel(ctx)
}

// runLevels executes each level as a concurrent batch and waits for the
// whole batch before moving on. The first task failure stops the level loop,
// but already-launched siblings always run to completion first.
func (e *Engine) runLevels(ctx context.Context, instance *models.WorkflowInstance, levels [][]string) error {
	states := make(map[string]*models.TaskState, len(instance.Tasks))
	for _, ts := range instance.Tasks {
		states[ts.ID] = ts
	}

	for levelIndex, level := range levels {
		if instance.CurrentStatus() != models.InstanceStatusRunning {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("workflow run aborted before level %d: %w", levelIndex, err)
		}

		levelCtx, levelSpan := otelhelper.StartSpan(ctx, e.tracer, "level.run",
			attribute.String(otelhelper.InstanceIDKey, instance.ID),
			attribute.Int(otelhelper.LevelKey, levelIndex),
		)

		group := new(errgroup.Group)

		for _, id := range level {
			ts := states[id]

			group.Go(func() error {
				return e.runTask(levelCtx, instance, ts)
			})
		}

		if err := group.Wait(); err != nil {
			otelhelper.SetError(levelSpan, err)
			levelSpan.End()

			return err
		}

		levelSpan.End()

		if e.options.Checkpoint && instance.CurrentStatus() == models.InstanceStatusRunning {
			e.checkpoint(instance, levelIndex)
		}
	}

	return nil
}

func (e *Engine) checkpoint(instance *models.WorkflowInstance, level int) {
	instance.AddCheckpoint(models.Checkpoint{
		Level:          level,
		Context:        instance.Context.Snapshot(),
		CompletedTasks: instance.CompletedTaskIDs(),
		CreatedAt:      time.Now().UTC(),
	}, e.options.MaxCheckpoints)
}

// failInstance finalizes a failed run. The failing task id is taken from the
// propagated TaskExecutionError when present.
func (e *Engine) failInstance(ctx context.Context, instance *models.WorkflowInstance, templateID string, cause error) {
	taskID := ""

	var taskErr *TaskExecutionError
	if errors.As(cause, &taskErr) {
		taskID = taskErr.TaskID
	}

	if !instance.MarkFailed(taskID, cause.Error()) {
		return
	}

	duration := instance.Duration()

	e.logger.ErrorContext(ctx, "Workflow instance failed",
		"instance_id", instance.ID,
		"task_id", taskID,
		"error", cause,
	)
	e.publish(ctx, instance.ID, events.InstanceFailed{
		BaseEvent:  events.NewBaseEvent(events.InstanceFailedEvent, instance.ID),
		TemplateID: templateID,
		TaskID:     taskID,
		Error:      cause.Error(),
		DurationMs: duration.Milliseconds(),
	})
}

func (e *Engine) result(instance *models.WorkflowInstance) *StartResult {
	snapshot := instance.Snapshot()

	return &StartResult{
		Success:    snapshot.Status == models.InstanceStatusCompleted,
		WorkflowID: snapshot.ID,
		Status:     snapshot.Status,
		Output:     snapshot.Context.Snapshot(),
		Duration:   snapshot.Duration(),
	}
}

// Cancel stops a running instance. The transition is advisory: tasks already
// dispatched to a provider observe it through context cancellation, and their
// late results are discarded. Returns ErrInvalidStateTransition when the
// instance is already terminal.
func (e *Engine) Cancel(ctx context.Context, workflowID string) (bool, error) {
	instance, err := e.instances.Get(ctx, workflowID)
	if err != nil {
		return false, err
	}

	if !instance.MarkCancelled() {
		return false, fmt.Errorf("%w: instance %s is %s", ErrInvalidStateTransition, workflowID, instance.CurrentStatus())
	}

	e.cancelRun(workflowID)

	e.logger.InfoContext(ctx, "Workflow instance cancelled", "instance_id", workflowID)
	e.publish(ctx, workflowID, events.InstanceCancelled{
		BaseEvent:  events.NewBaseEvent(events.InstanceCancelledEvent, workflowID),
		TemplateID: instance.TemplateID,
		DurationMs: instance.Duration().Milliseconds(),
	})

	return true, nil
}

// StatusReport is a point-in-time view of an instance for polling.
type StatusReport struct {
	ID              string                  `json:"id"`
	Name            string                  `json:"name"`
	Status          models.InstanceStatus   `json:"status"`
	StartedAt       time.Time               `json:"started_at"`
	FinishedAt      *time.Time              `json:"finished_at,omitempty"`
	Duration        time.Duration           `json:"duration"`
	Tasks           []*models.TaskState     `json:"tasks"`
	ProgressPercent float64                 `json:"progress_percent"`
	Errors          []models.ExecutionError `json:"errors,omitempty"`
}

// Status reports the current state of an instance without mutating it.
// Unknown ids return ErrWorkflowNotFound.
func (e *Engine) Status(ctx context.Context, workflowID string) (*StatusReport, error) {
	instance, err := e.instances.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	snapshot := instance.Snapshot()

	return &StatusReport{
		ID:              snapshot.ID,
		Name:            snapshot.TemplateName,
		Status:          snapshot.Status,
		StartedAt:       snapshot.StartedAt,
		FinishedAt:      snapshot.FinishedAt,
		Duration:        snapshot.Duration(),
		Tasks:           snapshot.Tasks,
		ProgressPercent: snapshot.Progress(),
		Errors:          snapshot.Errors,
	}, nil
}

// Stats summarizes catalog and instance counts.
type Stats struct {
	Templates int                           `json:"templates"`
	Instances int                           `json:"instances"`
	Running   int                           `json:"running"`
	ByStatus  map[models.InstanceStatus]int `json:"by_status"`
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	templates, err := e.templates.List(ctx)
	if err != nil {
		return nil, err
	}

	instances, err := e.instances.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Templates: len(templates),
		Instances: len(instances),
		ByStatus:  make(map[models.InstanceStatus]int),
	}

	for _, instance := range instances {
		stats.ByStatus[instance.CurrentStatus()]++
	}

	stats.Running = stats.ByStatus[models.InstanceStatusRunning]

	return stats, nil
}

// Shutdown cancels every running instance and stops the sweeper. The event
// bus is owned by the caller and stays open.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.cancels))

	for id := range e.cancels {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if _, err := e.Cancel(ctx, id); err != nil && !IsInvalidStateTransition(err) {
			e.logger.ErrorContext(ctx, "Failed to cancel instance during shutdown",
				"instance_id", id, "error", err)
		}
	}

	if e.sweeper != nil {
		e.sweeper.Stop(ctx)
	}

	e.logger.InfoContext(ctx, "Engine shut down", "cancelled", len(ids))

	return nil
}

func (e *Engine) trackCancel(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancels[id] = cancel
}

func (e *Engine) releaseCancel(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.cancels, id)
}

func (e *Engine) cancelRun(id string) {
	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()

	if ok {
		cancel()
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "key", key, "error", err)
	}
}
