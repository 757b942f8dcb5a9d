// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"sort"
	"strings"

	"github.com/hectorcore/substrate/pkg/coreerrors"
	"github.com/hectorcore/substrate/pkg/task"
)

// CircularDependencyError carries the cyclic path discovered during
// validation, e.g. [T1, T2, T1].
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return "circular dependency: " + strings.Join(e.Path, " -> ")
}

// InvalidDependencyError names the tasks referencing unknown dependency ids.
type InvalidDependencyError struct {
	TaskID       string
	MissingDepID string
}

func (e *InvalidDependencyError) Error() string {
	return "task " + e.TaskID + " depends on unknown task " + e.MissingDepID
}

// validateGraph checks that every DependsOn id resolves to a known task and
// that the dependency graph is acyclic, using the same iterative
// three-color DFS discipline as the coordinator's wait-for cycle check.
func validateGraph(tasks []*task.Task) error {
	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				return coreerrors.Wrap(coreerrors.KindInvalidDependency, "unknown dependency", &InvalidDependencyError{
					TaskID:       t.ID,
					MissingDepID: dep,
				})
			}
		}
	}
	sort.Strings(ids)

	color := make(map[string]dfsColor, len(ids))
	for _, id := range ids {
		if color[id] != colorUnvisited {
			continue
		}
		if cycle := dfsFindCycle(id, byID, color); cycle != nil {
			return coreerrors.Wrap(coreerrors.KindCircularDependency, "dependency cycle", &CircularDependencyError{Path: cycle})
		}
	}
	return nil
}

type dfsColor int

const (
	colorUnvisited dfsColor = iota
	colorOnStack
	colorDone
)

// dfsFindCycle walks the dependency edges (task -> its DependsOn ids) from
// start looking for a back edge into the current stack.
func dfsFindCycle(start string, byID map[string]*task.Task, color map[string]dfsColor) []string {
	type frame struct {
		id  string
		idx int
	}

	stack := []frame{{id: start}}
	path := []string{start}
	color[start] = colorOnStack

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		deps := byID[top.id].DependsOn
		if top.idx >= len(deps) {
			color[top.id] = colorDone
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
			continue
		}

		next := deps[top.idx]
		top.idx++

		switch color[next] {
		case colorUnvisited:
			color[next] = colorOnStack
			stack = append(stack, frame{id: next})
			path = append(path, next)
		case colorOnStack:
			for i, n := range path {
				if n == next {
					return append(append([]string{}, path[i:]...), next)
				}
			}
		case colorDone:
		}
	}
	return nil
}

// readySet returns the tasks in pending whose dependencies are all in
// completed and which are not already running, ordered by descending
// priority then by insertion order (stable sort preserves the tie order
// documented for Sequential mode).
func readySet(pending []*task.Task, completed map[string]struct{}, running map[string]struct{}) []*task.Task {
	var ready []*task.Task
	for _, t := range pending {
		if _, isRunning := running[t.ID]; isRunning {
			continue
		}
		if dependenciesSatisfied(t, completed) {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority > ready[j].Priority
	})
	return ready
}

func dependenciesSatisfied(t *task.Task, completed map[string]struct{}) bool {
	for _, dep := range t.DependsOn {
		if _, ok := completed[dep]; !ok {
			return false
		}
	}
	return true
}

// topologicalOrder returns tasks ordered so every dependency precedes its
// dependents, ties broken by descending priority then insertion order, for
// Sequential execution. Assumes the graph has already been validated.
func topologicalOrder(tasks []*task.Task) []*task.Task {
	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var order []*task.Task
	visited := make(map[string]bool, len(tasks))

	var visit func(t *task.Task)
	visit = func(t *task.Task) {
		if visited[t.ID] {
			return
		}
		visited[t.ID] = true
		for _, dep := range t.DependsOn {
			visit(byID[dep])
		}
		order = append(order, t)
	}

	remaining := make([]*task.Task, len(tasks))
	copy(remaining, tasks)
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].Priority > remaining[j].Priority
	})
	for _, t := range remaining {
		visit(t)
	}
	return order
}
