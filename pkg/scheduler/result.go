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
	"time"

	"github.com/hectorcore/substrate/pkg/task"
)

// TaskOutcome pairs a task id with its final result.
type TaskOutcome struct {
	TaskID string
	Result *task.Result
}

// ExecutionResult aggregates the outcome of running a task set to
// completion (or cancellation).
type ExecutionResult struct {
	Success         bool
	Results         []TaskOutcome
	SuccessfulCount int
	FailedCount     int
	SkippedCount    int
	TotalDuration   time.Duration
	MergedSummary   *string
	TotalTokenUsage int
}

// Summarizer reduces a batch of task outcomes to a bounded-length summary.
// It is a pluggable collaborator; the scheduler never interprets its output.
type Summarizer interface {
	Summarize(outcomes []TaskOutcome, maxTokens int) (string, error)
}

// aggregate builds the ExecutionResult from the terminal task set.
func aggregate(tasks []*task.Task, started time.Time, cancelled bool, summarizer Summarizer, autoSummarize bool, summaryMaxTokens int) ExecutionResult {
	res := ExecutionResult{
		Success: !cancelled,
		Results: make([]TaskOutcome, 0, len(tasks)),
	}

	for _, t := range tasks {
		outcome := TaskOutcome{TaskID: t.ID, Result: t.Result()}
		res.Results = append(res.Results, outcome)

		switch t.Status() {
		case task.StatusCompleted:
			res.SuccessfulCount++
		case task.StatusFailed:
			res.FailedCount++
			res.Success = false
		case task.StatusSkipped:
			res.SkippedCount++
		case task.StatusCancelled:
			res.Success = false
		}

		if outcome.Result != nil {
			res.TotalTokenUsage += outcome.Result.TokenUsage
		}
	}

	res.TotalDuration = time.Since(started)

	if autoSummarize && summarizer != nil && len(res.Results) > 0 {
		if summary, err := summarizer.Summarize(res.Results, summaryMaxTokens); err == nil {
			res.MergedSummary = &summary
		}
	}

	return res
}
