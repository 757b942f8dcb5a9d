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

// EventKind tags the shape of an Event.
type EventKind string

const (
	EventStarted       EventKind = "started"
	EventTaskStarted   EventKind = "task_started"
	EventTaskCompleted EventKind = "task_completed"
	EventTaskFailed    EventKind = "task_failed"
	EventTaskRetry     EventKind = "task_retry"
	EventTaskSkipped   EventKind = "task_skipped"
	EventProgress      EventKind = "progress"
	EventCancelled     EventKind = "cancelled"
	EventCompleted     EventKind = "completed"
)

// Event is a single point on the scheduler's typed event stream. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// Started
	Total int

	// TaskStarted / TaskCompleted / TaskFailed / TaskRetry / TaskSkipped
	TaskID   string
	TaskType string
	Duration time.Duration
	Err      error
	Count    int
	Reason   string

	// Progress
	Snapshot ProgressSnapshot

	// Completed
	Success bool
}

// ProgressSnapshot is a point-in-time view of execution progress, delivered
// with Progress events.
type ProgressSnapshot struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Skipped   int
}

// snapshotProgress derives a ProgressSnapshot from the submitted tasks'
// current statuses.
func snapshotProgress(tasks []*task.Task) ProgressSnapshot {
	snap := ProgressSnapshot{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status() {
		case task.StatusRunning:
			snap.Running++
		case task.StatusCompleted:
			snap.Completed++
		case task.StatusFailed:
			snap.Failed++
		case task.StatusSkipped:
			snap.Skipped++
		case task.StatusCancelled:
		default:
			snap.Pending++
		}
	}
	return snap
}
