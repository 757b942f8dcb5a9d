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

import "github.com/hectorcore/substrate/pkg/task"

// Strategy selects how a task set is walked to completion.
type Strategy string

const (
	// StrategySingleAgent runs every task sequentially, in the same order as
	// Sequential. Each task is still assigned through the coordinator using
	// the run's criteria; the tasks are not pinned to one agent.
	StrategySingleAgent Strategy = "single_agent"

	// StrategySequential runs tasks one at a time in topological order.
	StrategySequential Strategy = "sequential"

	// StrategyParallel runs dependency-ready tasks concurrently, bounded by
	// MaxConcurrency.
	StrategyParallel Strategy = "parallel"

	// StrategyBreadthFirst runs exactly like Parallel: a task starts as soon
	// as its dependencies are satisfied and a concurrency slot is free; there
	// is no barrier between dependency levels.
	StrategyBreadthFirst Strategy = "breadth_first"

	// StrategyAdaptive picks one of the above once, based on the shape of
	// the submitted task set.
	StrategyAdaptive Strategy = "adaptive"
)

// resolveAdaptive picks a concrete strategy for Adaptive: a singleton set
// runs SingleAgent, a strictly linear dependency chain runs Sequential,
// anything else runs Parallel. The choice is made once; there is no
// recursive re-evaluation.
func resolveAdaptive(tasks []*task.Task) Strategy {
	if len(tasks) <= 1 {
		return StrategySingleAgent
	}
	if isLinearChain(tasks) {
		return StrategySequential
	}
	return StrategyParallel
}

// isLinearChain reports whether the dependency graph forms a single chain:
// exactly one root (no deps), exactly one leaf reachable by following
// single-dependency edges, and every task has at most one dependency and
// at most one dependent.
func isLinearChain(tasks []*task.Task) bool {
	roots := 0
	dependentCount := make(map[string]int, len(tasks))
	for _, t := range tasks {
		if len(t.DependsOn) > 1 {
			return false
		}
		if len(t.DependsOn) == 0 {
			roots++
		}
		for _, dep := range t.DependsOn {
			dependentCount[dep]++
		}
	}
	if roots != 1 {
		return false
	}
	for _, count := range dependentCount {
		if count > 1 {
			return false
		}
	}
	return true
}
