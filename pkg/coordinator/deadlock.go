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

package coordinator

import "sort"

// RecordHold records that agent holds resource. Replaces any prior holder.
func (c *Coordinator) RecordHold(resource, agent string) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	c.holds[resource] = agent
}

// ReleaseHold removes the hold record for resource, if any.
func (c *Coordinator) ReleaseHold(resource string) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	delete(c.holds, resource)
}

// RecordWait records that agent is waiting on resource.
func (c *Coordinator) RecordWait(agent, resource string) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	if c.waits[agent] == nil {
		c.waits[agent] = make(map[string]struct{})
	}
	c.waits[agent][resource] = struct{}{}
}

// ReleaseWait clears agent's wait on resource.
func (c *Coordinator) ReleaseWait(agent, resource string) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	if set := c.waits[agent]; set != nil {
		delete(set, resource)
		if len(set) == 0 {
			delete(c.waits, agent)
		}
	}
}

// DeadlockInfo describes a detected cycle in the wait-for graph.
type DeadlockInfo struct {
	InvolvedAgents    []string
	InvolvedResources []string
	Description       string
}

type dfsColor int

const (
	colorUnvisited dfsColor = iota
	colorOnStack
	colorDone
)

// DetectDeadlock builds the wait-for digraph (agent A -> agent B when A
// waits for a resource held by B) over the recorded holds/waits and runs
// an iterative, three-color-marked DFS for cycles. Any cycle yields a
// DeadlockInfo; linear wait chains never trigger detection.
func (c *Coordinator) DetectDeadlock() *DeadlockInfo {
	c.resMu.Lock()
	graph, resourcesByEdge := c.buildWaitForGraphLocked()
	c.resMu.Unlock()

	agents := make([]string, 0, len(graph))
	for a := range graph {
		agents = append(agents, a)
	}
	sort.Strings(agents) // deterministic traversal order

	color := make(map[string]dfsColor, len(agents))
	for _, a := range agents {
		if color[a] != colorUnvisited {
			continue
		}
		if cycle := dfsFindCycle(a, graph, color); cycle != nil {
			info := buildDeadlockInfo(cycle, resourcesByEdge)
			c.log.Warn("deadlock detected", "agents", info.InvolvedAgents, "resources", info.InvolvedResources)
			if c.met != nil {
				c.met.DeadlocksFound.Inc()
			}
			return info
		}
	}
	return nil
}

// buildWaitForGraphLocked derives agent->agent wait-for edges from the
// holds/waits maps. Caller must hold c.resMu.
func (c *Coordinator) buildWaitForGraphLocked() (map[string][]string, map[[2]string]string) {
	graph := make(map[string][]string)
	resourceOf := make(map[[2]string]string)

	for agent, resources := range c.waits {
		for resource := range resources {
			holder, held := c.holds[resource]
			if !held || holder == agent {
				continue
			}
			graph[agent] = append(graph[agent], holder)
			resourceOf[[2]string{agent, holder}] = resource
		}
	}
	for agent := range graph {
		sort.Strings(graph[agent])
	}
	return graph, resourceOf
}

// dfsFindCycle runs an iterative DFS from start using a three-color marker
// (unvisited / on-stack / done); an edge into an on-stack node closes a
// cycle, which is reconstructed and returned as the sequence of agent ids.
func dfsFindCycle(start string, graph map[string][]string, color map[string]dfsColor) []string {
	type frame struct {
		node string
		idx  int
	}

	stack := []frame{{node: start}}
	path := []string{start}
	color[start] = colorOnStack

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.idx >= len(graph[top.node]) {
			color[top.node] = colorDone
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
			continue
		}

		next := graph[top.node][top.idx]
		top.idx++

		switch color[next] {
		case colorUnvisited:
			color[next] = colorOnStack
			stack = append(stack, frame{node: next})
			path = append(path, next)
		case colorOnStack:
			// Found a back edge into the current path: extract the cycle.
			for i, n := range path {
				if n == next {
					return append(append([]string{}, path[i:]...), next)
				}
			}
		case colorDone:
			// Already fully explored with no cycle through it; skip.
		}
	}
	return nil
}

func buildDeadlockInfo(cycle []string, resourceOf map[[2]string]string) *DeadlockInfo {
	agentSet := make(map[string]struct{})
	var resources []string
	for i := 0; i < len(cycle)-1; i++ {
		agentSet[cycle[i]] = struct{}{}
		if r, ok := resourceOf[[2]string{cycle[i], cycle[i+1]}]; ok {
			resources = append(resources, r)
		}
	}
	agents := make([]string, 0, len(agentSet))
	for a := range agentSet {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	return &DeadlockInfo{
		InvolvedAgents:    agents,
		InvolvedResources: resources,
		Description:       "cycle detected in wait-for graph",
	}
}
