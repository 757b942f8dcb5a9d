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

// Package metrics provides Prometheus instrumentation for the
// orchestration core's three engines: agent assignment/completion
// (coordinator), task execution (scheduler), and tool calls (MCP fabric).
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hectorcore/substrate/pkg/coreerrors"
)

// Metrics bundles the CounterVec/HistogramVec/GaugeVec set the core
// engines report through. The zero value is not usable; use New.
type Metrics struct {
	registry *prometheus.Registry

	TasksAssigned   *prometheus.CounterVec
	TasksCompleted  *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	DeadlocksFound  prometheus.Counter
	AgentLoad       *prometheus.GaugeVec

	ToolCalls        *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	ToolCallErrors   *prometheus.CounterVec
}

// New registers and returns a fresh metric set against a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TasksAssigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hectorcore",
			Subsystem: "coordinator",
			Name:      "tasks_assigned_total",
			Help:      "Total tasks assigned to an agent, by strategy.",
		}, []string{"strategy"}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hectorcore",
			Subsystem: "scheduler",
			Name:      "tasks_completed_total",
			Help:      "Total tasks reaching a terminal state, by outcome.",
		}, []string{"outcome"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hectorcore",
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task_type"}),
		DeadlocksFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hectorcore",
			Subsystem: "coordinator",
			Name:      "deadlocks_detected_total",
			Help:      "Total deadlock cycles found by DetectDeadlock.",
		}),
		AgentLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hectorcore",
			Subsystem: "coordinator",
			Name:      "agent_load",
			Help:      "Current load (current_tasks/max_concurrent_tasks) per agent.",
		}, []string{"agent_id"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hectorcore",
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "Total MCP tool calls, by server and tool.",
		}, []string{"server", "tool"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hectorcore",
			Subsystem: "mcp",
			Name:      "tool_call_duration_seconds",
			Help:      "MCP tool call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server", "tool"}),
		ToolCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hectorcore",
			Subsystem: "mcp",
			Name:      "tool_call_errors_total",
			Help:      "Total MCP tool call errors, by server, tool, and error kind.",
		}, []string{"server", "tool", "kind"}),
	}

	reg.MustRegister(
		m.TasksAssigned, m.TasksCompleted, m.TaskDuration,
		m.DeadlocksFound, m.AgentLoad,
		m.ToolCalls, m.ToolCallDuration, m.ToolCallErrors,
	)
	return m
}

// Registry exposes the private Prometheus registry for a host process to
// serve (e.g. via promhttp.HandlerFor), without forcing one HTTP surface
// on every embedder of this module.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveToolCall is a small helper pairing a counter increment with a
// duration observation, the pattern every call site in pkg/mcp/tool uses.
func (m *Metrics) ObserveToolCall(server, tool string, d time.Duration, err error) {
	m.ToolCalls.WithLabelValues(server, tool).Inc()
	m.ToolCallDuration.WithLabelValues(server, tool).Observe(d.Seconds())
	if err != nil {
		m.ToolCallErrors.WithLabelValues(server, tool, errKind(err)).Inc()
	}
}

func errKind(err error) string {
	var ce *coreerrors.Error
	if errors.As(err, &ce) {
		return string(ce.Kind)
	}
	return "unknown"
}
