package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/echelonflow/echelon/pkg/protocol"
	"github.com/echelonflow/echelon/pkg/registry"
	"github.com/echelonflow/echelon/pkg/workflow"
)

const defaultHTTPTimeout = 30 * time.Second

// demoCapabilities wires the built-in providers the CLI ships with. Real
// deployments implement pkg/protocol against their own agent runtime and
// model gateway and pass those to the engine instead.
func demoCapabilities(logger *slog.Logger) workflow.Capabilities {
	return workflow.Capabilities{
		Agents:      &echoAgent{logger: logger},
		Completions: &cannedCompletion{logger: logger},
		Functions:   builtinFunctions(logger),
	}
}

// echoAgent reflects its input back, tagged with the agent kind. It stands
// in for an agent runtime during local runs.
type echoAgent struct {
	logger *slog.Logger
}

func (a *echoAgent) Execute(ctx context.Context, kind string, input any) (any, error) {
	a.logger.InfoContext(ctx, "Agent invoked", "kind", kind)

	return map[string]any{
		"agent":      kind,
		"echo":       input,
		"handled_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// cannedCompletion produces a deterministic reply so completion tasks run
// without a model behind them.
type cannedCompletion struct {
	logger *slog.Logger
}

func (c *cannedCompletion) Complete(ctx context.Context, prompt string, opts protocol.CompletionOptions) (*protocol.CompletionResult, error) {
	model := opts.Model
	if model == "" {
		model = "echelon-demo"
	}

	c.logger.InfoContext(ctx, "Completion requested",
		"model", model, "temperature", opts.Temperature, "max_tokens", opts.MaxTokens)

	return &protocol.CompletionResult{
		Text:  fmt.Sprintf("[%s] %s", model, truncatePrompt(prompt)),
		Model: model,
	}, nil
}

func truncatePrompt(prompt string) string {
	const max = 80

	prompt = strings.TrimSpace(prompt)
	if len(prompt) <= max {
		return prompt
	}

	return prompt[:max] + "..."
}

func builtinFunctions(logger *slog.Logger) *registry.FunctionRegistry {
	functions := registry.NewFunctionRegistry(logger)

	functions.Register("log", logFunction(logger))
	functions.Register("sleep", sleepFunction)
	functions.Register("http_request", httpFunction)

	return functions
}

// logFunction writes its input to the service log and passes it through, so
// it can sit in the middle of a chain without losing the value.
func logFunction(logger *slog.Logger) registry.CustomFunc {
	return func(ctx context.Context, input any) (any, error) {
		logger.InfoContext(ctx, "Workflow log", "message", input)

		return input, nil
	}
}

// sleepFunction pauses for duration_ms, honoring cancellation.
func sleepFunction(ctx context.Context, input any) (any, error) {
	durationMs := 1000.0

	if config, ok := input.(map[string]any); ok {
		if ms, ok := config["duration_ms"].(float64); ok && ms >= 0 {
			durationMs = ms
		}
	}

	timer := time.NewTimer(time.Duration(durationMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return map[string]any{"slept_ms": durationMs}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// httpFunction performs one HTTP request described by its input map. The
// task retry budget covers transient failures, so the function itself never
// retries.
func httpFunction(ctx context.Context, input any) (any, error) {
	config, ok := input.(map[string]any)
	if !ok {
		return nil, errors.New("http_request input must be an object")
	}

	url, _ := config["url"].(string)
	if url == "" {
		return nil, errors.New("http_request input requires a 'url'")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	timeout := defaultHTTPTimeout
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	var bodyReader io.Reader
	if body, _ := config["body"].(string); body != "" {
		bodyReader = strings.NewReader(body)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, strings.ToUpper(method), url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	if headers, ok := config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if strVal, ok := value.(string); ok {
				req.Header.Set(key, strVal)
			}
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		body = string(bodyBytes)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     resp.Header,
	}, nil
}
