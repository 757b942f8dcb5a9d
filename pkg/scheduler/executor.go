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

	"github.com/hectorcore/substrate/pkg/sandbox"
	"github.com/hectorcore/substrate/pkg/task"
)

// Executor actually runs a task's work. It is an external collaborator: the
// scheduler only orders, retries, and aggregates; it never interprets a
// task's payload itself.
type Executor interface {
	Execute(ctx context.Context, t *task.Task, sb *sandbox.Sandbox) (*task.Result, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t *task.Task, sb *sandbox.Sandbox) (*task.Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, t *task.Task, sb *sandbox.Sandbox) (*task.Result, error) {
	return f(ctx, t, sb)
}
