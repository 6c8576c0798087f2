// Package graph computes dependency levels for workflow task lists.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/echelonflow/echelon/pkg/models"
)

// ErrInvalidGraph marks structural problems in a task dependency graph:
// duplicate ids, dangling references, or cycles.
var ErrInvalidGraph = errors.New("invalid task graph")

// Levels groups tasks into topological execution levels. Level 0 holds the
// tasks with no dependencies; each later level holds the not-yet-placed
// tasks whose dependencies all appear in earlier levels. Tasks inside one
// level have no defined relative order and are all eligible to run
// concurrently; template order is preserved within a level for determinism
// but callers must not rely on it.
//
// When no further level can be formed while tasks remain unplaced, the graph
// contains a cycle or an unresolvable reference and Levels returns an error.
// Tasks are never silently dropped.
func Levels(tasks []models.TaskSpec) ([][]string, error) {
	placed := make(map[string]bool, len(tasks))
	levels := make([][]string, 0)

	for len(placed) < len(tasks) {
		level := make([]string, 0)

		for _, task := range tasks {
			if placed[task.ID] {
				continue
			}

			if depsPlaced(task.DependsOn, placed) {
				level = append(level, task.ID)
			}
		}

		if len(level) == 0 {
			return nil, fmt.Errorf("%w: no runnable level among tasks [%s], dependency cycle or unresolved reference",
				ErrInvalidGraph, strings.Join(unplacedIDs(tasks, placed), ", "))
		}

		for _, id := range level {
			placed[id] = true
		}

		levels = append(levels, level)
	}

	return levels, nil
}

// Validate runs the registration-time graph checks: unique task ids across
// the whole task tree (branch tasks included), resolvable top-level
// dependsOn references, and acyclicity. Branch tasks execute sequentially
// inside their decision task, so their dependsOn takes no part in the level
// graph and is not checked here.
func Validate(tasks []models.TaskSpec) error {
	if err := checkUniqueIDs(tasks, make(map[string]bool)); err != nil {
		return err
	}

	ids := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		ids[task.ID] = true
	}

	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("%w: task %q depends on unknown task %q", ErrInvalidGraph, task.ID, dep)
			}
		}
	}

	_, err := Levels(tasks)

	return err
}

func depsPlaced(deps []string, placed map[string]bool) bool {
	for _, dep := range deps {
		if !placed[dep] {
			return false
		}
	}

	return true
}

func unplacedIDs(tasks []models.TaskSpec, placed map[string]bool) []string {
	ids := make([]string, 0)

	for _, task := range tasks {
		if !placed[task.ID] {
			ids = append(ids, task.ID)
		}
	}

	return ids
}

func checkUniqueIDs(tasks []models.TaskSpec, seen map[string]bool) error {
	for _, task := range tasks {
		if task.ID == "" {
			// Empty ids are reported by struct validation.
			continue
		}

		if seen[task.ID] {
			return fmt.Errorf("%w: duplicate task id %q", ErrInvalidGraph, task.ID)
		}

		seen[task.ID] = true

		if err := checkUniqueIDs(task.TrueBranch, seen); err != nil {
			return err
		}

		if err := checkUniqueIDs(task.FalseBranch, seen); err != nil {
			return err
		}
	}

	return nil
}
