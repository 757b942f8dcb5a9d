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

// Package scheduler executes dependency-aware task graphs over the
// coordinator and sandbox packages: it validates the submitted graph,
// chooses an execution strategy, runs tasks with bounded concurrency and
// retries, and aggregates the result.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hectorcore/substrate/pkg/config"
	"github.com/hectorcore/substrate/pkg/coordinator"
	"github.com/hectorcore/substrate/pkg/eventbus"
	"github.com/hectorcore/substrate/pkg/logger"
	"github.com/hectorcore/substrate/pkg/metrics"
	"github.com/hectorcore/substrate/pkg/sandbox"
	"github.com/hectorcore/substrate/pkg/task"
)

// Config parameterizes a Scheduler's retry, concurrency, and summarization
// policy. It mirrors the scheduler section of the configuration surface.
type Config struct {
	MaxConcurrency     int
	StopOnFirstError   bool
	RetryOnFailure     bool
	MaxRetries         int
	RetryDelay         time.Duration
	AutoSummarize      bool
	SummaryMaxTokens   int
	ContextInheritance sandbox.InheritancePolicy
}

func (c Config) concurrency() int {
	if c.MaxConcurrency <= 0 {
		return 1
	}
	return c.MaxConcurrency
}

// FromConfig adapts the recognized configuration surface (pkg/config)
// into a scheduler Config.
func FromConfig(c config.SchedulerConfig) Config {
	return Config{
		MaxConcurrency:   c.MaxConcurrency,
		StopOnFirstError: c.StopOnFirstError,
		RetryOnFailure:   c.RetryOnFailure,
		MaxRetries:       c.MaxRetries,
		RetryDelay:       c.RetryDelay,
		AutoSummarize:    c.AutoSummarize,
		SummaryMaxTokens: c.SummaryMaxTokens,
		ContextInheritance: sandbox.InheritancePolicy{
			InheritMessages:    c.ContextInheritance.InheritMessages,
			InheritToolResults: c.ContextInheritance.InheritToolResults,
			InheritFiles:       c.ContextInheritance.InheritFiles,
			InheritKnowledge:   c.ContextInheritance.InheritKnowledge,
			CompressContext:    c.ContextInheritance.CompressContext,
			TargetTokens:       c.ContextInheritance.TargetTokens,
		},
	}
}

// Scheduler runs task sets to completion against a Coordinator (agent
// assignment, load tracking) and a sandbox Manager (per-task execution
// envelopes).
type Scheduler struct {
	cfg         Config
	coordinator *coordinator.Coordinator
	sandboxes   *sandbox.Manager
	executor    Executor
	summarizer  Summarizer
	events      *eventbus.Bus[Event]
	log         *slog.Logger
	met         *metrics.Metrics
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLogger overrides the default package logger (logger.GetLogger()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithMetrics attaches a Prometheus metric set. Without it, task duration
// and completion counters are simply not recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.met = m }
}

// New builds a Scheduler. summarizer may be nil; it is only consulted when
// cfg.AutoSummarize is set.
func New(cfg Config, coord *coordinator.Coordinator, sandboxes *sandbox.Manager, executor Executor, summarizer Summarizer, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:         cfg,
		coordinator: coord,
		sandboxes:   sandboxes,
		executor:    executor,
		summarizer:  summarizer,
		events:      eventbus.New[Event](),
		log:         logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn against the scheduler's typed event stream and
// returns a function that unsubscribes it. Listener panics are recovered;
// a misbehaving subscriber cannot crash a run.
func (s *Scheduler) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

func (s *Scheduler) publish(e Event) {
	s.events.Publish(e)
}

// RunRequest describes one execution of a task set.
type RunRequest struct {
	Tasks         []*task.Task
	Strategy      Strategy
	Criteria      coordinator.Criteria
	ParentSandbox *sandbox.Sandbox // nil: each task gets a root sandbox
	Restrictions  sandbox.Restrictions
	SandboxTTL    time.Duration
}

// Execute validates req.Tasks, resolves req.Strategy, and runs the graph to
// completion, cancellation, or a fatal validation error.
func (s *Scheduler) Execute(ctx context.Context, req RunRequest) (ExecutionResult, error) {
	if err := checkDuplicateIDs(req.Tasks); err != nil {
		s.log.Warn("execution rejected", "error", err)
		return ExecutionResult{}, err
	}
	if err := validateGraph(req.Tasks); err != nil {
		s.log.Warn("execution rejected", "error", err)
		return ExecutionResult{}, err
	}

	strategy := req.Strategy
	if strategy == StrategyAdaptive {
		strategy = resolveAdaptive(req.Tasks)
	}

	s.log.Debug("execution started", "tasks", len(req.Tasks), "strategy", strategy)
	started := time.Now()
	s.publish(Event{Kind: EventStarted, Total: len(req.Tasks)})

	var cancelled bool
	switch strategy {
	case StrategySingleAgent, StrategySequential:
		cancelled = s.runSequential(ctx, req)
	default:
		cancelled = s.runParallel(ctx, req)
	}

	result := aggregate(req.Tasks, started, cancelled, s.summarizer, s.cfg.AutoSummarize, s.cfg.SummaryMaxTokens)

	if cancelled {
		s.publish(Event{Kind: EventCancelled})
	} else {
		s.publish(Event{Kind: EventCompleted, Success: result.Success, Duration: result.TotalDuration})
	}
	return result, nil
}

func checkDuplicateIDs(tasks []*task.Task) error {
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.ID]; ok {
			return ErrDuplicateTaskID
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// runSequential drives tasks in topological order, one at a time. Returns
// true if the run was cancelled before completion.
func (s *Scheduler) runSequential(ctx context.Context, req RunRequest) bool {
	order := topologicalOrder(req.Tasks)
	failed := make(map[string]struct{})

	for _, t := range order {
		if ctx.Err() != nil {
			cancelRemaining(order, t)
			return true
		}
		if blockedByFailure(t, failed) {
			t.Skip("upstream dependency failed")
			s.publish(Event{Kind: EventTaskSkipped, TaskID: t.ID, Reason: "upstream dependency failed"})
			failed[t.ID] = struct{}{}
			continue
		}

		s.runOneWithRetry(ctx, t, req)
		s.publish(Event{Kind: EventProgress, Snapshot: snapshotProgress(order)})
		if t.Status() == task.StatusFailed {
			failed[t.ID] = struct{}{}
			if s.cfg.StopOnFirstError {
				cancelRemainingAfter(order, t)
				continue
			}
		}
	}
	return false
}

func blockedByFailure(t *task.Task, failed map[string]struct{}) bool {
	for _, dep := range t.DependsOn {
		if _, ok := failed[dep]; ok {
			return true
		}
	}
	return false
}

func cancelRemaining(order []*task.Task, from *task.Task) {
	found := false
	for _, t := range order {
		if t == from {
			found = true
		}
		if found && !t.Status().IsTerminal() {
			t.Cancel()
		}
	}
}

func cancelRemainingAfter(order []*task.Task, after *task.Task) {
	found := false
	for _, t := range order {
		if found && !t.Status().IsTerminal() {
			t.Skip("upstream dependency failed")
		}
		if t == after {
			found = true
		}
	}
}

// runParallel drives dependency-ready tasks concurrently, bounded by
// cfg.MaxConcurrency, recomputing readiness as tasks complete.
func (s *Scheduler) runParallel(ctx context.Context, req RunRequest) bool {
	var mu sync.Mutex
	pending := make(map[string]*task.Task, len(req.Tasks))
	for _, t := range req.Tasks {
		pending[t.ID] = t
	}
	running := make(map[string]struct{})
	completed := make(map[string]struct{})
	failed := make(map[string]struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.concurrency())
	wake := make(chan struct{}, 1)
	cancelled := false

	signal := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	for {
		mu.Lock()
		if len(pending) == 0 && len(running) == 0 {
			mu.Unlock()
			break
		}
		if ctx.Err() != nil && len(running) == 0 {
			for _, t := range pending {
				t.Cancel()
			}
			pending = map[string]*task.Task{}
			cancelled = true
			mu.Unlock()
			break
		}

		var pendingList []*task.Task
		for _, t := range pending {
			pendingList = append(pendingList, t)
		}
		if s.cfg.StopOnFirstError {
			pendingList = dropBlocked(pendingList, failed, pending, s)
		}
		ready := readySet(pendingList, completed, running)

		if ctx.Err() == nil {
			for _, t := range ready {
				if len(running) >= s.cfg.concurrency() {
					break
				}
				delete(pending, t.ID)
				running[t.ID] = struct{}{}
				t := t
				g.Go(func() error {
					s.runOneWithRetry(gctx, t, req)

					mu.Lock()
					delete(running, t.ID)
					switch t.Status() {
					case task.StatusCompleted:
						completed[t.ID] = struct{}{}
					case task.StatusFailed:
						failed[t.ID] = struct{}{}
					}
					mu.Unlock()
					s.publish(Event{Kind: EventProgress, Snapshot: snapshotProgress(req.Tasks)})
					signal()
					return nil
				})
			}
		}
		mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			signal()
		case <-time.After(50 * time.Millisecond):
			// Periodic wake guards against missing a signal race; cheap
			// relative to task execution latency.
		}
	}

	_ = g.Wait()
	return cancelled
}

// dropBlocked marks pending tasks whose dependencies include a failed task
// as Skipped and removes them from the given task list and the pending
// table, so their own dependents are caught on the next iteration.
func dropBlocked(ready []*task.Task, failed map[string]struct{}, pending map[string]*task.Task, s *Scheduler) []*task.Task {
	out := ready[:0:0]
	for _, t := range ready {
		if blockedByFailure(t, failed) {
			t.Skip("upstream dependency failed")
			s.publish(Event{Kind: EventTaskSkipped, TaskID: t.ID, Reason: "upstream dependency failed"})
			failed[t.ID] = struct{}{}
			delete(pending, t.ID)
			continue
		}
		out = append(out, t)
	}
	return out
}

// runOneWithRetry runs a single task to a terminal state, retrying
// transient failures up to cfg.MaxRetries with cfg.RetryDelay between
// attempts.
func (s *Scheduler) runOneWithRetry(ctx context.Context, t *task.Task, req RunRequest) {
	for {
		sb := s.childSandbox(t, req)
		agent, err := s.assign(t, req.Criteria)
		if err != nil {
			t.Complete(&task.Result{Success: false, Error: err})
			s.publish(Event{Kind: EventTaskFailed, TaskID: t.ID, Err: err})
			return
		}

		t.Start()
		s.publish(Event{Kind: EventTaskStarted, TaskID: t.ID, TaskType: t.Type})

		result, execErr := s.executor.Execute(ctx, t, sb)
		if result == nil {
			result = &task.Result{Success: false, Error: execErr, Retryable: execErr != nil}
		}
		t.Complete(result)

		if agent != nil {
			_ = s.coordinator.CompleteTask(t.ID, result)
		}

		if t.Status() == task.StatusCompleted {
			s.publish(Event{Kind: EventTaskCompleted, TaskID: t.ID, Duration: t.Duration()})
			if s.met != nil {
				s.met.TaskDuration.WithLabelValues(t.Type).Observe(t.Duration().Seconds())
			}
			return
		}

		if s.cfg.RetryOnFailure && result.Retryable && t.RetryCount() < s.cfg.MaxRetries {
			count := t.IncrementRetry()
			s.log.Debug("task retrying", "task_id", t.ID, "attempt", count, "error", result.Error)
			s.publish(Event{Kind: EventTaskRetry, TaskID: t.ID, Count: count})
			t.SetStatus(task.StatusPending)
			if !sleepOrCancel(ctx, s.cfg.RetryDelay) {
				t.Cancel()
				return
			}
			continue
		}

		s.publish(Event{Kind: EventTaskFailed, TaskID: t.ID, Err: result.Error})
		if s.met != nil {
			s.met.TaskDuration.WithLabelValues(t.Type).Observe(t.Duration().Seconds())
		}
		return
	}
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) assign(t *task.Task, criteria coordinator.Criteria) (*coordinator.Capabilities, error) {
	if s.coordinator == nil {
		return nil, nil
	}
	return s.coordinator.AssignTask(t, criteria)
}

func (s *Scheduler) childSandbox(t *task.Task, req RunRequest) *sandbox.Sandbox {
	if s.sandboxes == nil {
		return nil
	}
	restrictions := req.Restrictions
	if t.Quotas != nil {
		if t.Quotas.MaxTokens != nil {
			restrictions.MaxTokens = *t.Quotas.MaxTokens
		}
		if len(t.Quotas.AllowedTools) > 0 {
			restrictions.AllowedTools = toSet(t.Quotas.AllowedTools)
		}
		if len(t.Quotas.DeniedTools) > 0 {
			restrictions.DeniedTools = toSet(t.Quotas.DeniedTools)
		}
	}

	parentID := ""
	if req.ParentSandbox != nil {
		parentID = req.ParentSandbox.ID
	}
	return s.sandboxes.Create(t.AssignedTo(), parentID, restrictions, req.SandboxTTL)
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
