// Package registry holds the host functions available to custom tasks.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/echelonflow/echelon/pkg/protocol"
)

// CustomFunc is a host function callable from custom tasks.
type CustomFunc func(ctx context.Context, input any) (any, error)

// FunctionRegistry maps names to host functions.
type FunctionRegistry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	functions map[string]CustomFunc
}

func NewFunctionRegistry(logger *slog.Logger) *FunctionRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	return &FunctionRegistry{
		logger:    logger.With("module", "registry"),
		functions: make(map[string]CustomFunc),
	}
}

// Register makes fn callable from custom tasks under name. Re-registering a
// name replaces the previous function.
func (r *FunctionRegistry) Register(name string, fn CustomFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.functions[name] = fn
	r.logger.Debug("Registered custom function", "name", name)
}

// Invoke runs the function registered under name with the resolved task input.
func (r *FunctionRegistry) Invoke(ctx context.Context, name string, input any) (any, error) {
	r.mu.RLock()
	fn, ok := r.functions[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("custom function '%s' not registered", name)
	}

	return fn(ctx, input)
}

// List returns the registered function names in sorted order.
func (r *FunctionRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

var _ protocol.FunctionRegistry = (*FunctionRegistry)(nil)
