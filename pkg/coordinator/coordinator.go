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

import (
	"log/slog"
	"sync"

	"github.com/hectorcore/substrate/pkg/logger"
	"github.com/hectorcore/substrate/pkg/metrics"
	"github.com/hectorcore/substrate/pkg/task"
)

// Coordinator registers agents, assigns tasks, tracks resource holds/waits
// for deadlock detection, and runs synchronization barriers. A Coordinator
// is safe for concurrent use.
type Coordinator struct {
	mu         sync.RWMutex
	agents     map[string]*Capabilities
	agentOrder []string // registration order, for RoundRobin/LeastBusy tie-breaks
	tasks      map[string]*task.Task

	rrMu     sync.Mutex
	rrCursor int

	resMu sync.Mutex
	holds map[string]string              // resource -> holder agent id
	waits map[string]map[string]struct{} // agent id -> set of resources it waits on

	barrierMu sync.Mutex
	barriers  map[string]*barrier

	log *slog.Logger
	met *metrics.Metrics
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithLogger overrides the default package logger (logger.GetLogger()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithMetrics attaches a Prometheus metric set. Without it, assignment and
// deadlock counters are simply not recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.met = m }
}

// New creates an empty Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		agents:   make(map[string]*Capabilities),
		tasks:    make(map[string]*task.Task),
		holds:    make(map[string]string),
		waits:    make(map[string]map[string]struct{}),
		barriers: make(map[string]*barrier),
		log:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterAgent adds (or replaces) an agent record.
func (c *Coordinator) RegisterAgent(agent *Capabilities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.agents[agent.ID]; !exists {
		agent.registeredSeq = len(c.agentOrder)
		c.agentOrder = append(c.agentOrder, agent.ID)
	}
	c.agents[agent.ID] = agent
	c.log.Debug("agent registered", "agent_id", agent.ID, "type", agent.Type)
}

// GetAgent returns the agent record by id.
func (c *Coordinator) GetAgent(id string) (*Capabilities, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	return a, ok
}

// orderedAgents returns agents in registration order. Caller must not hold c.mu.
func (c *Coordinator) orderedAgents() []*Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Capabilities, 0, len(c.agentOrder))
	for _, id := range c.agentOrder {
		out = append(out, c.agents[id])
	}
	return out
}

// AssignTask selects an eligible agent for task per criteria, registers
// the task, increments the agent's load, and marks the task Assigned.
func (c *Coordinator) AssignTask(t *task.Task, criteria Criteria) (*Capabilities, error) {
	agent, err := c.selectAgent(c.orderedAgents(), criteria)
	if err != nil {
		c.log.Warn("task assignment failed", "task_id", t.ID, "strategy", criteria.Strategy, "error", err)
		return nil, err
	}

	c.mu.Lock()
	c.tasks[t.ID] = t
	c.mu.Unlock()

	agent.increment()
	t.Assign(agent.ID)
	c.log.Debug("task assigned", "task_id", t.ID, "agent_id", agent.ID, "strategy", criteria.Strategy)
	if c.met != nil {
		c.met.TasksAssigned.WithLabelValues(string(criteria.Strategy)).Inc()
		c.met.AgentLoad.WithLabelValues(agent.ID).Set(agent.CurrentLoad())
	}
	return agent, nil
}

// StartTask transitions a previously assigned task to Running.
func (c *Coordinator) StartTask(id string) error {
	t, ok := c.getTask(id)
	if !ok {
		return ErrTaskNotFound
	}
	t.Start()
	return nil
}

// CompleteTask records the result, moves the task to Completed or Failed,
// and decrements the owning agent's load exactly once.
func (c *Coordinator) CompleteTask(id string, result *task.Result) error {
	t, ok := c.getTask(id)
	if !ok {
		return ErrTaskNotFound
	}
	t.Complete(result)

	if agentID := t.AssignedTo(); agentID != "" {
		if agent, ok := c.GetAgent(agentID); ok {
			agent.decrement()
			if c.met != nil {
				c.met.AgentLoad.WithLabelValues(agent.ID).Set(agent.CurrentLoad())
			}
		}
	}
	c.log.Debug("task completed", "task_id", t.ID, "success", result.Success, "status", t.Status())
	if c.met != nil {
		outcome := "failure"
		if result.Success {
			outcome = "success"
		}
		c.met.TasksCompleted.WithLabelValues(outcome).Inc()
	}
	return nil
}

func (c *Coordinator) getTask(id string) (*task.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	return t, ok
}

// Stats aggregates task and agent counters for monitoring.
type Stats struct {
	TotalTasks     int
	PendingTasks   int
	RunningTasks   int
	CompletedTasks int
	FailedTasks    int
	TotalAgents    int
	ActiveAgents   int
}

// Stats computes a fresh snapshot from the task and agent tables.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{TotalTasks: len(c.tasks), TotalAgents: len(c.agents)}
	for _, t := range c.tasks {
		switch t.Status() {
		case task.StatusPending, task.StatusWaitingForDependencies, task.StatusAssigned:
			s.PendingTasks++
		case task.StatusRunning:
			s.RunningTasks++
		case task.StatusCompleted:
			s.CompletedTasks++
		case task.StatusFailed:
			s.FailedTasks++
		}
	}
	for _, a := range c.agents {
		if a.Status() != AgentOffline && a.Status() != AgentError {
			s.ActiveAgents++
		}
	}
	return s
}
