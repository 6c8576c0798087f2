// Package protocol defines the contracts between the workflow engine and the
// capability providers and triggers that plug into it.
package protocol

import "context"

// AgentExecutor runs agent tasks. kind selects the agent backing the task;
// input is the task input after variable resolution.
type AgentExecutor interface {
	Execute(ctx context.Context, kind string, input any) (any, error)
}

// CompletionOptions carries the model selection for a single completion call.
type CompletionOptions struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// CompletionResult is the provider's answer for one prompt.
type CompletionResult struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// CompletionProvider produces text for ai_completion tasks.
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (*CompletionResult, error)
}

// FunctionRegistry dispatches custom tasks to host functions by name.
type FunctionRegistry interface {
	Invoke(ctx context.Context, name string, input any) (any, error)
}
