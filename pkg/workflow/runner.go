package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/echelonflow/echelon/pkg/events"
	"github.com/echelonflow/echelon/pkg/models"
	"github.com/echelonflow/echelon/pkg/otelhelper"
	"github.com/echelonflow/echelon/pkg/protocol"
	"github.com/echelonflow/echelon/pkg/template"
	"go.opentelemetry.io/otel/attribute"
)

// runTask drives one task through its retry budget and records the outcome
// on the instance. Branch tasks of decisions arrive here as transient states
// that are not part of the instance task list; they still get the full
// lifecycle of events, retries and context writes.
func (e *Engine) runTask(ctx context.Context, instance *models.WorkflowInstance, ts *models.TaskState) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "task.run",
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.TaskIDKey, ts.ID),
		attribute.String(otelhelper.TaskTypeKey, string(ts.Type)),
	)
	defer span.End()

	startedAt := time.Now().UTC()

	instance.UpdateTask(ts, func(state *models.TaskState) {
		state.Status = models.TaskStatusRunning
		state.StartedAt = &startedAt
	})

	e.logger.InfoContext(ctx, "Task started",
		"instance_id", instance.ID, "task_id", ts.ID, "task_type", ts.Type)
	e.publish(ctx, instance.ID, events.TaskStarted{
		BaseEvent: events.NewBaseEvent(events.TaskStartedEvent, instance.ID),
		TaskID:    ts.ID,
		TaskName:  ts.Name,
		TaskType:  ts.Type,
	})

	// Input is resolved once against the context as it stood when the task
	// began; retries reuse the same resolved value.
	input := template.Resolve(ts.Input, instance.Context.Snapshot())

	delay := ts.RetryDelay(e.options.RetryDelay)

	var lastErr error

	for attempt := 0; attempt <= ts.MaxRetries; attempt++ {
		instance.UpdateTask(ts, func(state *models.TaskState) {
			state.Attempts = attempt + 1
		})

		result, err := e.dispatch(ctx, instance, ts, input)
		if err == nil {
			e.completeTask(ctx, instance, ts, result, startedAt)

			return nil
		}

		lastErr = err
		e.logger.WarnContext(ctx, "Task attempt failed",
			"instance_id", instance.ID,
			"task_id", ts.ID,
			"attempt", attempt+1,
			"error", err,
		)

		if attempt < ts.MaxRetries {
			// Linear backoff: the wait after attempt i is (i+1) * delay.
			if waitErr := e.waitRetry(ctx, delay*time.Duration(attempt+1)); waitErr != nil {
				lastErr = fmt.Errorf("retry wait aborted: %w", waitErr)

				break
			}
		}
	}

	taskErr := e.failTask(ctx, instance, ts, lastErr, startedAt)
	otelhelper.SetError(span, taskErr)

	return taskErr
}

// dispatch routes one attempt to the capability provider for the task type.
func (e *Engine) dispatch(ctx context.Context, instance *models.WorkflowInstance, ts *models.TaskState, input any) (any, error) {
	switch ts.Type {
	case models.TaskTypeAgent:
		if e.capabilities.Agents == nil {
			return nil, errors.New("no agent executor configured")
		}

		return e.capabilities.Agents.Execute(ctx, ts.AgentKind(), input)

	case models.TaskTypeCompletion:
		if e.capabilities.Completions == nil {
			return nil, errors.New("no completion provider configured")
		}

		settings := ts.Completion()

		result, err := e.capabilities.Completions.Complete(ctx, template.Stringify(input), protocol.CompletionOptions{
			Provider:    settings.Provider,
			Model:       settings.Model,
			Temperature: settings.Temperature,
			MaxTokens:   settings.MaxTokens,
		})
		if err != nil {
			return nil, err
		}

		return result.Text, nil

	case models.TaskTypeCustom:
		if e.capabilities.Functions == nil {
			return nil, errors.New("no function registry configured")
		}

		return e.capabilities.Functions.Invoke(ctx, ts.FunctionName(), input)

	case models.TaskTypeDecision:
		return e.runDecision(ctx, instance, ts)

	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownTaskType, ts.Type)
	}
}

// runDecision evaluates the task condition against the current context and
// runs the chosen branch sequentially, task by task, outside the level
// scheduler. An empty branch is a no-op. The decision's result names the
// branch taken and the evaluated condition value.
func (e *Engine) runDecision(ctx context.Context, instance *models.WorkflowInstance, ts *models.TaskState) (any, error) {
	data := instance.Context.Snapshot()
	condition := template.ResolveString(ts.Condition, data)
	value := e.evaluator.Evaluate(ctx, condition, data)

	branchName := "false"
	branch := ts.FalseBranch

	if value {
		branchName = "true"
		branch = ts.TrueBranch
	}

	for i := range branch {
		state := models.NewTaskState(branch[i])

		if err := e.runTask(ctx, instance, state); err != nil {
			return nil, fmt.Errorf("branch '%s' task %s: %w", branchName, state.ID, err)
		}
	}

	return map[string]any{
		"branch":    branchName,
		"condition": value,
	}, nil
}

func (e *Engine) completeTask(ctx context.Context, instance *models.WorkflowInstance, ts *models.TaskState, result any, startedAt time.Time) {
	finishedAt := time.Now().UTC()

	instance.UpdateTask(ts, func(state *models.TaskState) {
		state.Status = models.TaskStatusCompleted
		state.Result = result
		state.FinishedAt = &finishedAt
	})

	if ts.Output != "" {
		instance.Context.Set(ts.Output, result)
	}

	e.logger.InfoContext(ctx, "Task completed",
		"instance_id", instance.ID, "task_id", ts.ID)
	e.publish(ctx, instance.ID, events.TaskCompleted{
		BaseEvent:  events.NewBaseEvent(events.TaskCompletedEvent, instance.ID),
		TaskID:     ts.ID,
		TaskType:   ts.Type,
		Result:     result,
		DurationMs: finishedAt.Sub(startedAt).Milliseconds(),
	})
}

func (e *Engine) failTask(ctx context.Context, instance *models.WorkflowInstance, ts *models.TaskState, cause error, startedAt time.Time) *TaskExecutionError {
	finishedAt := time.Now().UTC()

	var attempts int

	instance.UpdateTask(ts, func(state *models.TaskState) {
		state.Status = models.TaskStatusFailed
		state.Error = cause.Error()
		state.FinishedAt = &finishedAt
		attempts = state.Attempts
	})

	e.logger.ErrorContext(ctx, "Task failed",
		"instance_id", instance.ID,
		"task_id", ts.ID,
		"attempts", attempts,
		"error", cause,
	)
	e.publish(ctx, instance.ID, events.TaskFailed{
		BaseEvent:  events.NewBaseEvent(events.TaskFailedEvent, instance.ID),
		TaskID:     ts.ID,
		TaskType:   ts.Type,
		Error:      cause.Error(),
		Attempts:   attempts,
		DurationMs: finishedAt.Sub(startedAt).Milliseconds(),
	})

	return &TaskExecutionError{
		TaskID:   ts.ID,
		Type:     ts.Type,
		Attempts: attempts,
		Err:      cause,
	}
}

// waitRetry blocks for the backoff delay, aborting early when the run
// context ends.
func (e *Engine) waitRetry(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
