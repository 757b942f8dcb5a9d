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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hectorcore/substrate/pkg/coordinator"
	"github.com/hectorcore/substrate/pkg/metrics"
	"github.com/hectorcore/substrate/pkg/sandbox"
	"github.com/hectorcore/substrate/pkg/task"
)

func newTestCoordinator() *coordinator.Coordinator {
	c := coordinator.New()
	c.RegisterAgent(coordinator.NewCapabilities("a1", "worker", nil, 10))
	return c
}

func succeedingExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, t *task.Task, sb *sandbox.Sandbox) (*task.Result, error) {
		return &task.Result{Success: true}, nil
	})
}

func TestExecuteSequentialOrdersByDependency(t *testing.T) {
	var mu sync.Mutex
	var order []string
	executor := ExecutorFunc(func(ctx context.Context, tk *task.Task, sb *sandbox.Sandbox) (*task.Result, error) {
		mu.Lock()
		order = append(order, tk.ID)
		mu.Unlock()
		return &task.Result{Success: true}, nil
	})

	t1 := task.New("T1", "build", 0, nil, nil)
	t2 := task.New("T2", "build", 0, []string{"T1"}, nil)

	s := New(Config{MaxConcurrency: 4}, newTestCoordinator(), sandbox.NewManager(), executor, nil)
	result, err := s.Execute(context.Background(), RunRequest{
		Tasks:    []*task.Task{t2, t1},
		Strategy: StrategySequential,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.SuccessfulCount)
	assert.Equal(t, []string{"T1", "T2"}, order)
}

// TestExecuteParallelWithDependency checks that T1 completes strictly
// before T2 starts, and both succeed.
func TestExecuteParallelWithDependency(t *testing.T) {
	var mu sync.Mutex
	var t1Done, t2Started bool

	executor := ExecutorFunc(func(ctx context.Context, tk *task.Task, sb *sandbox.Sandbox) (*task.Result, error) {
		if tk.ID == "T2" {
			mu.Lock()
			t2Started = true
			ok := t1Done
			mu.Unlock()
			assert.True(t, ok, "T2 must start after T1 completes")
		}
		time.Sleep(5 * time.Millisecond)
		if tk.ID == "T1" {
			mu.Lock()
			t1Done = true
			mu.Unlock()
		}
		return &task.Result{Success: true}, nil
	})

	t1 := task.New("T1", "build", 0, nil, nil)
	t2 := task.New("T2", "build", 0, []string{"T1"}, nil)

	s := New(Config{MaxConcurrency: 4}, newTestCoordinator(), sandbox.NewManager(), executor, nil)
	result, err := s.Execute(context.Background(), RunRequest{
		Tasks:    []*task.Task{t1, t2},
		Strategy: StrategyParallel,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.SuccessfulCount)
	assert.True(t, t2Started)
}

// TestExecuteCircularDependencyRejected checks that a circular task
// dependency is rejected before execution starts.
func TestExecuteCircularDependencyRejected(t *testing.T) {
	t1 := task.New("T1", "build", 0, []string{"T2"}, nil)
	t2 := task.New("T2", "build", 0, []string{"T1"}, nil)

	called := false
	executor := ExecutorFunc(func(ctx context.Context, tk *task.Task, sb *sandbox.Sandbox) (*task.Result, error) {
		called = true
		return &task.Result{Success: true}, nil
	})

	s := New(Config{MaxConcurrency: 4}, newTestCoordinator(), sandbox.NewManager(), executor, nil)
	_, err := s.Execute(context.Background(), RunRequest{
		Tasks:    []*task.Task{t1, t2},
		Strategy: StrategyParallel,
	})
	require.Error(t, err)
	assert.False(t, called)
	var cycleErr *CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
}

func TestExecuteInvalidDependencyRejected(t *testing.T) {
	t1 := task.New("T1", "build", 0, []string{"ghost"}, nil)
	s := New(Config{MaxConcurrency: 4}, newTestCoordinator(), sandbox.NewManager(), succeedingExecutor(), nil)
	_, err := s.Execute(context.Background(), RunRequest{Tasks: []*task.Task{t1}, Strategy: StrategyParallel})
	require.Error(t, err)
	var depErr *InvalidDependencyError
	require.ErrorAs(t, err, &depErr)
}

func TestStopOnFirstErrorSkipsDependents(t *testing.T) {
	t1 := task.New("T1", "build", 0, nil, nil)
	t2 := task.New("T2", "build", 0, []string{"T1"}, nil)

	executor := ExecutorFunc(func(ctx context.Context, tk *task.Task, sb *sandbox.Sandbox) (*task.Result, error) {
		if tk.ID == "T1" {
			return &task.Result{Success: false, Error: assertError("boom")}, nil
		}
		return &task.Result{Success: true}, nil
	})

	s := New(Config{MaxConcurrency: 4, StopOnFirstError: true}, newTestCoordinator(), sandbox.NewManager(), executor, nil)
	result, err := s.Execute(context.Background(), RunRequest{
		Tasks:    []*task.Task{t1, t2},
		Strategy: StrategySequential,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Equal(t, task.StatusSkipped, t2.Status())
}

func TestRetryOnFailureRetriesUpToMaxRetries(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	executor := ExecutorFunc(func(ctx context.Context, tk *task.Task, sb *sandbox.Sandbox) (*task.Result, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return &task.Result{Success: false, Retryable: true, Error: assertError("transient")}, nil
		}
		return &task.Result{Success: true}, nil
	})

	t1 := task.New("T1", "build", 0, nil, nil)
	s := New(Config{MaxConcurrency: 1, RetryOnFailure: true, MaxRetries: 5, RetryDelay: time.Millisecond}, newTestCoordinator(), sandbox.NewManager(), executor, nil)
	result, err := s.Execute(context.Background(), RunRequest{Tasks: []*task.Task{t1}, Strategy: StrategySequential})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, attempts)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestResolveAdaptivePicksByShape(t *testing.T) {
	single := []*task.Task{task.New("T1", "build", 0, nil, nil)}
	assert.Equal(t, StrategySingleAgent, resolveAdaptive(single))

	chain := []*task.Task{
		task.New("T1", "build", 0, nil, nil),
		task.New("T2", "build", 0, []string{"T1"}, nil),
		task.New("T3", "build", 0, []string{"T2"}, nil),
	}
	assert.Equal(t, StrategySequential, resolveAdaptive(chain))

	diamond := []*task.Task{
		task.New("T1", "build", 0, nil, nil),
		task.New("T2", "build", 0, []string{"T1"}, nil),
		task.New("T3", "build", 0, []string{"T1"}, nil),
	}
	assert.Equal(t, StrategyParallel, resolveAdaptive(diamond))
}

func TestEventStreamCoversRunLifecycle(t *testing.T) {
	t1 := task.New("T1", "build", 0, nil, nil)
	s := New(Config{MaxConcurrency: 1}, newTestCoordinator(), sandbox.NewManager(), succeedingExecutor(), nil)

	var mu sync.Mutex
	var kinds []EventKind
	unsubscribe := s.Subscribe(func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})
	defer unsubscribe()

	_, err := s.Execute(context.Background(), RunRequest{Tasks: []*task.Task{t1}, Strategy: StrategySequential})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventStarted, kinds[0])
	assert.Contains(t, kinds, EventTaskStarted)
	assert.Contains(t, kinds, EventTaskCompleted)
	assert.Contains(t, kinds, EventProgress)
	assert.Equal(t, EventCompleted, kinds[len(kinds)-1])
}

func TestCancellationStopsSpawningAndReportsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	executor := ExecutorFunc(func(ctx context.Context, tk *task.Task, sb *sandbox.Sandbox) (*task.Result, error) {
		cancel() // cancel mid-run; remaining tasks must not spawn
		return &task.Result{Success: true}, nil
	})

	t1 := task.New("T1", "build", 0, nil, nil)
	t2 := task.New("T2", "build", 0, []string{"T1"}, nil)

	s := New(Config{MaxConcurrency: 1}, newTestCoordinator(), sandbox.NewManager(), executor, nil)
	result, err := s.Execute(ctx, RunRequest{Tasks: []*task.Task{t1, t2}, Strategy: StrategyParallel})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, task.StatusCancelled, t2.Status())
}

type joiningSummarizer struct{}

func (joiningSummarizer) Summarize(outcomes []TaskOutcome, maxTokens int) (string, error) {
	return "summary of " + outcomes[0].TaskID, nil
}

func TestAutoSummarizeProducesMergedSummary(t *testing.T) {
	t1 := task.New("T1", "build", 0, nil, nil)
	s := New(Config{MaxConcurrency: 1, AutoSummarize: true, SummaryMaxTokens: 100}, newTestCoordinator(), sandbox.NewManager(), succeedingExecutor(), joiningSummarizer{})

	result, err := s.Execute(context.Background(), RunRequest{Tasks: []*task.Task{t1}, Strategy: StrategySequential})
	require.NoError(t, err)
	require.NotNil(t, result.MergedSummary)
	assert.Equal(t, "summary of T1", *result.MergedSummary)
}

func TestPerTaskQuotasShapeChildSandbox(t *testing.T) {
	maxTokens := 64
	var seen *sandbox.Sandbox
	executor := ExecutorFunc(func(ctx context.Context, tk *task.Task, sb *sandbox.Sandbox) (*task.Result, error) {
		seen = sb
		return &task.Result{Success: true}, nil
	})

	t1 := task.New("T1", "build", 0, nil, nil)
	t1.Quotas = &task.Quotas{MaxTokens: &maxTokens, DeniedTools: []string{"shell"}}

	s := New(Config{MaxConcurrency: 1}, newTestCoordinator(), sandbox.NewManager(), executor, nil)
	_, err := s.Execute(context.Background(), RunRequest{
		Tasks:        []*task.Task{t1},
		Strategy:     StrategySequential,
		Restrictions: sandbox.NewRestrictions(1000, 10, 10),
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, 64, seen.Restrictions.MaxTokens)
	assert.False(t, seen.IsToolAllowed("shell"))
}

func TestMetricsRecordTaskDuration(t *testing.T) {
	met := metrics.New()
	t1 := task.New("T1", "build", 0, nil, nil)
	s := New(Config{MaxConcurrency: 1}, newTestCoordinator(), sandbox.NewManager(), succeedingExecutor(), nil, WithMetrics(met))

	result, err := s.Execute(context.Background(), RunRequest{Tasks: []*task.Task{t1}, Strategy: StrategySequential})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, testutil.CollectAndCount(met.TaskDuration))
}
