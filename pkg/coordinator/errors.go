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

import "github.com/hectorcore/substrate/pkg/coreerrors"

// ErrNoSuitableAgent is returned when no registered agent satisfies the
// assignment criteria.
var ErrNoSuitableAgent = coreerrors.New(coreerrors.KindNoSuitableAgent, "no eligible agent satisfies the assignment criteria")

// ErrAgentNotFound is returned when an operation names an unregistered agent id.
var ErrAgentNotFound = coreerrors.New(coreerrors.KindNotFound, "agent not found")

// ErrTaskNotFound is returned when an operation names an unknown task id.
var ErrTaskNotFound = coreerrors.New(coreerrors.KindNotFound, "task not found")

// ErrBarrierNotFound is returned when an operation names an unknown barrier id.
var ErrBarrierNotFound = coreerrors.New(coreerrors.KindNotFound, "barrier not found")
