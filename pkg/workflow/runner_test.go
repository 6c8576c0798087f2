package workflow

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/echelonflow/echelon/pkg/events"
	"github.com/echelonflow/echelon/pkg/models"
	"github.com/echelonflow/echelon/pkg/protocol"
	"github.com/echelonflow/echelon/pkg/registry"
	"github.com/echelonflow/echelon/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_RetryBudgetAndLinearBackoff(t *testing.T) {
	var calls []time.Time

	functions := registry.NewFunctionRegistry(nil)
	functions.Register("flaky", func(ctx context.Context, input any) (any, error) {
		calls = append(calls, time.Now())

		return nil, assert.AnError
	})

	engine, bus := newTestEngine(t, Capabilities{Functions: functions}, testOptions())
	ctx := context.Background()

	_, err := engine.RegisterTemplate(ctx, &models.WorkflowTemplate{
		ID:   "tpl-flaky",
		Name: "flaky single",
		Tasks: []models.TaskSpec{
			{ID: "f", Type: models.TaskTypeCustom, Config: map[string]any{"function": "flaky"}, MaxRetries: 2, RetryDelayMs: 30},
		},
	})
	require.NoError(t, err)

	started := time.Now()
	_, err = engine.Start(ctx, "tpl-flaky", nil, models.Owner{})
	elapsed := time.Since(started)

	require.Error(t, err)

	var taskErr *TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "f", taskErr.TaskID)
	assert.Equal(t, 3, taskErr.Attempts)

	require.Len(t, calls, 3, "one initial attempt plus two retries")

	// Waits of 30ms then 60ms sit between the three attempts.
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 30*time.Millisecond)
	assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 60*time.Millisecond)

	assert.Equal(t, 1, bus.count(events.TaskFailedEvent))
	assert.Equal(t, 1, bus.count(events.InstanceFailedEvent))

	instances, err := engine.instances.List(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, 3, instances[0].Snapshot().Tasks[0].Attempts)
}

func TestEngine_RetrySucceedsMidway(t *testing.T) {
	attempts := 0

	functions := registry.NewFunctionRegistry(nil)
	functions.Register("wobbly", func(ctx context.Context, input any) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, assert.AnError
		}

		return "finally", nil
	})

	engine, bus := newTestEngine(t, Capabilities{Functions: functions}, testOptions())
	ctx := context.Background()

	_, err := engine.RegisterTemplate(ctx, &models.WorkflowTemplate{
		ID:   "tpl-wobbly",
		Name: "recovers after retries",
		Tasks: []models.TaskSpec{
			{ID: "w", Type: models.TaskTypeCustom, Config: map[string]any{"function": "wobbly"}, Output: "w", MaxRetries: 3, RetryDelayMs: 5},
		},
	})
	require.NoError(t, err)

	result, err := engine.Start(ctx, "tpl-wobbly", nil, models.Owner{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "finally", result.Output["w"])
	assert.Equal(t, 3, attempts, "no attempts after the first success")

	instances, err := engine.instances.List(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 1)

	state := instances[0].Snapshot().Tasks[0]
	assert.Equal(t, models.TaskStatusCompleted, state.Status)
	assert.Equal(t, 3, state.Attempts)

	assert.Equal(t, 0, bus.count(events.TaskFailedEvent))
}

func TestEngine_AgentDispatch(t *testing.T) {
	var (
		gotKind  string
		gotInput any
	)

	agents := agentFunc(func(ctx context.Context, kind string, input any) (any, error) {
		gotKind = kind
		gotInput = input

		return map[string]any{"category": "billing"}, nil
	})

	engine, _ := newTestEngine(t, Capabilities{Agents: agents}, testOptions())
	ctx := context.Background()

	structured := map[string]any{"ticket": "${ticket}", "hint": 7}

	_, err := engine.RegisterTemplate(ctx, &models.WorkflowTemplate{
		ID:   "tpl-agent",
		Name: "agent dispatch",
		Tasks: []models.TaskSpec{
			{ID: "triage", Type: models.TaskTypeAgent, Config: map[string]any{"agent": "support-triage"}, Input: structured, Output: "triage"},
		},
	})
	require.NoError(t, err)

	result, err := engine.Start(ctx, "tpl-agent", map[string]any{"ticket": "T-100"}, models.Owner{})
	require.NoError(t, err)

	assert.Equal(t, "support-triage", gotKind)
	// Structured inputs pass through untouched; only string inputs are
	// interpolated.
	assert.Equal(t, structured, gotInput)
	assert.Equal(t, map[string]any{"category": "billing"}, result.Output["triage"])
}

func TestEngine_CompletionDispatchDefaults(t *testing.T) {
	var (
		gotPrompt string
		gotOpts   protocol.CompletionOptions
	)

	completions := completionFunc(func(ctx context.Context, prompt string, opts protocol.CompletionOptions) (*protocol.CompletionResult, error) {
		gotPrompt = prompt
		gotOpts = opts

		return &protocol.CompletionResult{Text: "a short poem", Model: "test-model"}, nil
	})

	engine, _ := newTestEngine(t, Capabilities{Completions: completions}, testOptions())
	ctx := context.Background()

	_, err := engine.RegisterTemplate(ctx, &models.WorkflowTemplate{
		ID:   "tpl-poem",
		Name: "poem flow",
		Tasks: []models.TaskSpec{
			{ID: "poem", Type: models.TaskTypeCompletion, Input: "Write about ${topic}", Output: "poem"},
		},
	})
	require.NoError(t, err)

	result, err := engine.Start(ctx, "tpl-poem", map[string]any{"topic": "rivers"}, models.Owner{})
	require.NoError(t, err)

	assert.Equal(t, "Write about rivers", gotPrompt)
	assert.InEpsilon(t, models.DefaultTemperature, gotOpts.Temperature, 0.001)
	assert.Equal(t, models.DefaultMaxTokens, gotOpts.MaxTokens)
	assert.Empty(t, gotOpts.Provider)
	assert.Equal(t, "a short poem", result.Output["poem"])
}

func TestEngine_CompletionDispatchOverrides(t *testing.T) {
	var gotOpts protocol.CompletionOptions

	completions := completionFunc(func(ctx context.Context, prompt string, opts protocol.CompletionOptions) (*protocol.CompletionResult, error) {
		gotOpts = opts

		return &protocol.CompletionResult{Text: "ok"}, nil
	})

	engine, _ := newTestEngine(t, Capabilities{Completions: completions}, testOptions())
	ctx := context.Background()

	_, err := engine.RegisterTemplate(ctx, &models.WorkflowTemplate{
		ID:   "tpl-tuned",
		Name: "tuned completion",
		Tasks: []models.TaskSpec{
			{
				ID:    "summarize",
				Type:  models.TaskTypeCompletion,
				Input: "Summarize the report",
				Config: map[string]any{
					"provider":    "anthropic",
					"model":       "compact-1",
					"temperature": 0.2,
					"max_tokens":  64,
				},
			},
		},
	})
	require.NoError(t, err)

	_, err = engine.Start(ctx, "tpl-tuned", nil, models.Owner{})
	require.NoError(t, err)

	assert.Equal(t, "anthropic", gotOpts.Provider)
	assert.Equal(t, "compact-1", gotOpts.Model)
	assert.InEpsilon(t, 0.2, gotOpts.Temperature, 0.001)
	assert.Equal(t, 64, gotOpts.MaxTokens)
}

func decisionTemplate(condition string) *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		ID:   "tpl-route",
		Name: "routing flow",
		Tasks: []models.TaskSpec{
			{
				ID:        "route",
				Type:      models.TaskTypeDecision,
				Condition: condition,
				Output:    "route",
				TrueBranch: []models.TaskSpec{
					{ID: "page", Type: models.TaskTypeCustom, Config: map[string]any{"function": "page"}, Output: "page_result"},
				},
				FalseBranch: []models.TaskSpec{
					{ID: "enqueue", Type: models.TaskTypeCustom, Config: map[string]any{"function": "enqueue"}, Output: "queue_result"},
				},
			},
		},
	}
}

func TestEngine_DecisionTrueBranch(t *testing.T) {
	paged, queued := false, false

	functions := registry.NewFunctionRegistry(nil)
	functions.Register("page", func(ctx context.Context, input any) (any, error) {
		paged = true

		return "paged", nil
	})
	functions.Register("enqueue", func(ctx context.Context, input any) (any, error) {
		queued = true

		return "queued", nil
	})

	engine, bus := newTestEngine(t, Capabilities{Functions: functions}, testOptions())
	ctx := context.Background()

	_, err := engine.RegisterTemplate(ctx, decisionTemplate("urgent == true"))
	require.NoError(t, err)

	result, err := engine.Start(ctx, "tpl-route", map[string]any{"urgent": true}, models.Owner{})
	require.NoError(t, err)

	assert.True(t, paged)
	assert.False(t, queued)
	assert.Equal(t, map[string]any{"branch": "true", "condition": true}, result.Output["route"])
	assert.Equal(t, "paged", result.Output["page_result"], "branch outputs land in the shared context")
	assert.NotContains(t, result.Output, "queue_result")

	// route and page each get their own lifecycle events.
	assert.Equal(t, 2, bus.count(events.TaskStartedEvent))
	assert.Equal(t, 2, bus.count(events.TaskCompletedEvent))
}

func TestEngine_DecisionFalseBranch(t *testing.T) {
	functions := registry.NewFunctionRegistry(nil)
	functions.Register("page", func(ctx context.Context, input any) (any, error) {
		return "paged", nil
	})
	functions.Register("enqueue", func(ctx context.Context, input any) (any, error) {
		return "queued", nil
	})

	engine, _ := newTestEngine(t, Capabilities{Functions: functions}, testOptions())
	ctx := context.Background()

	_, err := engine.RegisterTemplate(ctx, decisionTemplate("urgent == true"))
	require.NoError(t, err)

	result, err := engine.Start(ctx, "tpl-route", map[string]any{"urgent": false}, models.Owner{})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"branch": "false", "condition": false}, result.Output["route"])
	assert.Equal(t, "queued", result.Output["queue_result"])
	assert.NotContains(t, result.Output, "page_result")
}

func TestEngine_DecisionConditionInterpolation(t *testing.T) {
	functions := registry.NewFunctionRegistry(nil)
	functions.Register("page", func(ctx context.Context, input any) (any, error) {
		return "paged", nil
	})
	functions.Register("enqueue", func(ctx context.Context, input any) (any, error) {
		return "queued", nil
	})

	engine, _ := newTestEngine(t, Capabilities{Functions: functions}, testOptions())
	ctx := context.Background()

	_, err := engine.RegisterTemplate(ctx, decisionTemplate("${score} > 3"))
	require.NoError(t, err)

	result, err := engine.Start(ctx, "tpl-route", map[string]any{"score": 5}, models.Owner{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"branch": "true", "condition": true}, result.Output["route"])

	result, err = engine.Start(ctx, "tpl-route", map[string]any{"score": 2}, models.Owner{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"branch": "false", "condition": false}, result.Output["route"])
}

func TestEngine_DecisionEmptyBranch(t *testing.T) {
	engine, bus := newTestEngine(t, Capabilities{}, testOptions())
	ctx := context.Background()

	_, err := engine.RegisterTemplate(ctx, &models.WorkflowTemplate{
		ID:   "tpl-noop",
		Name: "gate without branches",
		Tasks: []models.TaskSpec{
			{ID: "gate", Type: models.TaskTypeDecision, Condition: "false", Output: "gate"},
		},
	})
	require.NoError(t, err)

	result, err := engine.Start(ctx, "tpl-noop", nil, models.Owner{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, map[string]any{"branch": "false", "condition": false}, result.Output["gate"])
	assert.Len(t, result.Output, 1, "an empty branch leaves no other trace in the context")
	assert.Equal(t, 1, bus.count(events.TaskStartedEvent))
}

func TestEngine_DecisionBranchFailure(t *testing.T) {
	functions := registry.NewFunctionRegistry(nil)
	functions.Register("page", func(ctx context.Context, input any) (any, error) {
		return nil, assert.AnError
	})
	functions.Register("enqueue", func(ctx context.Context, input any) (any, error) {
		return "queued", nil
	})

	engine, bus := newTestEngine(t, Capabilities{Functions: functions}, testOptions())
	ctx := context.Background()

	_, err := engine.RegisterTemplate(ctx, decisionTemplate("true"))
	require.NoError(t, err)

	_, err = engine.Start(ctx, "tpl-route", nil, models.Owner{})
	require.Error(t, err)

	// The decision task is the one reported failed; the branch task is in
	// its error chain.
	var taskErr *TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "route", taskErr.TaskID)
	assert.Contains(t, err.Error(), "branch 'true' task page")

	instances, err := engine.instances.List(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 1)

	snapshot := instances[0].Snapshot()
	require.Len(t, snapshot.Errors, 1)
	assert.Equal(t, "route", snapshot.Errors[0].TaskID)

	assert.Equal(t, 2, bus.count(events.TaskFailedEvent), "branch task and decision task each report failure")
}

// permissiveTemplates skips registration-time validation so execution-time
// guards can be exercised directly.
type permissiveTemplates struct {
	mu        sync.Mutex
	templates map[string]*models.WorkflowTemplate
}

func newPermissiveTemplates() *permissiveTemplates {
	return &permissiveTemplates{templates: make(map[string]*models.WorkflowTemplate)}
}

func (p *permissiveTemplates) Register(_ context.Context, template *models.WorkflowTemplate) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.templates[template.ID] = template

	return template.ID, nil
}

func (p *permissiveTemplates) Lookup(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	template, ok := p.templates[id]
	if !ok {
		return nil, store.NewTemplateError("Lookup", id, store.ErrTemplateNotFound)
	}

	return template, nil
}

func (p *permissiveTemplates) List(_ context.Context) ([]*models.WorkflowTemplate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*models.WorkflowTemplate, 0, len(p.templates))
	for _, template := range p.templates {
		out = append(out, template)
	}

	return out, nil
}

func (p *permissiveTemplates) Delete(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.templates, id)

	return nil
}

func TestEngine_UnknownTaskType(t *testing.T) {
	templates := newPermissiveTemplates()

	engine, err := NewEngine(
		templates,
		store.NewMemoryInstanceStore(),
		Capabilities{},
		nil,
		slog.New(slog.NewTextHandler(os.Stdout, nil)),
		testOptions(),
	)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = engine.RegisterTemplate(ctx, &models.WorkflowTemplate{
		ID:   "tpl-teleport",
		Name: "unsupported type",
		Tasks: []models.TaskSpec{
			{ID: "t", Type: models.TaskType("teleport"), MaxRetries: 1, RetryDelayMs: 5},
		},
	})
	require.NoError(t, err)

	_, err = engine.Start(ctx, "tpl-teleport", nil, models.Owner{})
	require.Error(t, err)
	assert.True(t, IsUnknownTaskType(err))

	// Every retry fails the same way before the task gives up.
	instances, err := engine.instances.List(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 1)

	state := instances[0].Snapshot().Tasks[0]
	assert.Equal(t, models.TaskStatusFailed, state.Status)
	assert.Equal(t, 2, state.Attempts)
}

func TestEngine_MissingCapabilityFailsTask(t *testing.T) {
	engine, _ := newTestEngine(t, Capabilities{}, testOptions())
	ctx := context.Background()

	_, err := engine.RegisterTemplate(ctx, &models.WorkflowTemplate{
		ID:   "tpl-nofn",
		Name: "no registry wired",
		Tasks: []models.TaskSpec{
			{ID: "c", Type: models.TaskTypeCustom, Config: map[string]any{"function": "anything"}},
		},
	})
	require.NoError(t, err)

	_, err = engine.Start(ctx, "tpl-nofn", nil, models.Owner{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no function registry configured")
}
