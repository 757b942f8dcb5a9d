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

package sandbox

import (
	"sync"
	"time"

	"github.com/hectorcore/substrate/pkg/coreerrors"
)

// Manager owns every Sandbox in a process, indexed by id, with a secondary
// index from agent id to its sandboxes and from parent to children, so
// cleanup can unwind the bookkeeping of an expired context.
type Manager struct {
	mu        sync.RWMutex
	sandboxes map[string]*Sandbox
	byAgent   map[string]map[string]struct{} // agentID -> set of sandbox ids
	children  map[string]map[string]struct{} // parentID -> set of child sandbox ids
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		sandboxes: make(map[string]*Sandbox),
		byAgent:   make(map[string]map[string]struct{}),
		children:  make(map[string]map[string]struct{}),
	}
}

// Create registers a new root or child sandbox and indexes it.
func (m *Manager) Create(agentID, parentID string, restrictions Restrictions, ttl time.Duration) *Sandbox {
	sb := New(agentID, parentID, restrictions, ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sandboxes[sb.ID] = sb
	if m.byAgent[agentID] == nil {
		m.byAgent[agentID] = make(map[string]struct{})
	}
	m.byAgent[agentID][sb.ID] = struct{}{}
	if parentID != "" {
		if m.children[parentID] == nil {
			m.children[parentID] = make(map[string]struct{})
		}
		m.children[parentID][sb.ID] = struct{}{}
	}
	return sb
}

// Get returns the sandbox by id.
func (m *Manager) Get(id string) (*Sandbox, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.sandboxes[id]
	return sb, ok
}

// ForAgent returns every sandbox owned by agentID.
func (m *Manager) ForAgent(agentID string) []*Sandbox {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byAgent[agentID]
	out := make([]*Sandbox, 0, len(ids))
	for id := range ids {
		out = append(out, m.sandboxes[id])
	}
	return out
}

// Remove deletes a single sandbox and its bookkeeping, without touching
// its children. CleanupExpired does not cascade either: it removes only
// sandboxes that have themselves expired.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

func (m *Manager) removeLocked(id string) error {
	sb, ok := m.sandboxes[id]
	if !ok {
		return coreerrors.New(coreerrors.KindNotFound, "sandbox not found: "+id)
	}
	delete(m.sandboxes, id)
	if set := m.byAgent[sb.AgentID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(m.byAgent, sb.AgentID)
		}
	}
	if sb.ParentID != "" {
		if set := m.children[sb.ParentID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(m.children, sb.ParentID)
			}
		}
	}
	delete(m.children, id) // this sandbox's own child index, if it had one
	return nil
}

// CleanupExpired removes every sandbox whose TTL has elapsed, along with
// its parent->child bookkeeping and its agent->sandbox back-mapping. It
// returns the ids removed.
func (m *Manager) CleanupExpired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for id, sb := range m.sandboxes {
		if sb.IsExpired() {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		_ = m.removeLocked(id)
	}
	return expired
}
