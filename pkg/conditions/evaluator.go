// Package conditions evaluates branching expressions for decision tasks.
package conditions

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator runs decision conditions through a sandboxed expression VM.
// Conditions support equality, numeric comparison and logical and/or over
// literals and context values; they cannot reach host code. Compiled
// programs are cached and reused across goroutines.
type Evaluator struct {
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator creates an Evaluator that logs evaluation failures to logger.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Evaluator{
		logger: logger.With("module", "conditions"),
		cache:  make(map[string]*vm.Program),
	}
}

// Evaluate returns the boolean outcome of condition against env. Context
// values are available as top-level variables; unknown variables evaluate to
// nil instead of failing. An empty condition is true. Any failure (compile,
// run, or a result that cannot be read as a boolean) is logged and yields
// false; Evaluate never returns an error to the caller.
func (e *Evaluator) Evaluate(ctx context.Context, condition string, env map[string]any) bool {
	if condition == "" {
		return true
	}

	prg, err := e.getOrCompile(condition)
	if err != nil {
		e.logger.ErrorContext(ctx, "Condition failed to compile, treating as false",
			"condition", condition, "error", err)

		return false
	}

	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		e.logger.ErrorContext(ctx, "Condition evaluation failed, treating as false",
			"condition", condition, "error", err)

		return false
	}

	result, err := truthy(out)
	if err != nil {
		e.logger.ErrorContext(ctx, "Condition result is not a boolean, treating as false",
			"condition", condition, "error", err)

		return false
	}

	return result
}

// getOrCompile returns a cached compiled program or compiles and caches a new
// one. Programs compile against an open map environment so the same program
// serves every instance context.
func (e *Evaluator) getOrCompile(condition string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[condition]; ok {
		e.mu.RUnlock()

		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring the write lock.
	if prg, ok := e.cache[condition]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(condition,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", condition, err)
	}

	e.cache[condition] = prg

	return prg, nil
}

// truthy coerces an evaluation result to a boolean. Bools pass through,
// numbers are true when non-zero, strings parse as booleans when possible and
// otherwise count as true when non-empty.
func truthy(v any) (bool, error) {
	switch val := v.(type) {
	case nil:
		return false, nil
	case bool:
		return val, nil
	case int:
		return val != 0, nil
	case int64:
		return val != 0, nil
	case float64:
		return val != 0, nil
	case string:
		if b, err := strconv.ParseBool(val); err == nil {
			return b, nil
		}

		return val != "", nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", v)
	}
}
