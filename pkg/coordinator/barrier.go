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
	"sort"

	"github.com/google/uuid"
)

// barrier tracks the required participant set and the arrivals seen so far
// for a single one-shot synchronization point.
type barrier struct {
	required map[string]struct{}
	arrived  map[string]struct{}
}

// CreateSyncBarrier registers a barrier requiring all of agents to arrive
// before it is considered reached. Returns the new barrier's id.
func (c *Coordinator) CreateSyncBarrier(agents []string) string {
	required := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		required[a] = struct{}{}
	}

	id := uuid.NewString()
	c.barrierMu.Lock()
	c.barriers[id] = &barrier{
		required: required,
		arrived:  make(map[string]struct{}),
	}
	c.barrierMu.Unlock()
	return id
}

// ArriveAtBarrier marks agent as arrived at barrier id. Re-arrival of an
// already-arrived agent is idempotent. Returns whether every required
// agent has now arrived, and an error if the barrier id is unknown.
func (c *Coordinator) ArriveAtBarrier(id, agent string) (bool, error) {
	c.barrierMu.Lock()
	defer c.barrierMu.Unlock()

	b, ok := c.barriers[id]
	if !ok {
		return false, ErrBarrierNotFound
	}
	if _, required := b.required[agent]; required {
		b.arrived[agent] = struct{}{}
	}
	return len(b.arrived) == len(b.required), nil
}

// GetPendingAgents returns the required agents that have not yet arrived
// at barrier id, in sorted order for deterministic output.
func (c *Coordinator) GetPendingAgents(id string) ([]string, error) {
	c.barrierMu.Lock()
	defer c.barrierMu.Unlock()

	b, ok := c.barriers[id]
	if !ok {
		return nil, ErrBarrierNotFound
	}

	var pending []string
	for a := range b.required {
		if _, arrived := b.arrived[a]; !arrived {
			pending = append(pending, a)
		}
	}
	sort.Strings(pending)
	return pending, nil
}

// IsBarrierReached reports whether every required agent has arrived.
func (c *Coordinator) IsBarrierReached(id string) (bool, error) {
	pending, err := c.GetPendingAgents(id)
	if err != nil {
		return false, err
	}
	return len(pending) == 0, nil
}
