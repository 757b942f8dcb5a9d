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

package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hectorcore/substrate/pkg/coreerrors"
)

// Sink persists and reloads an agent's metrics snapshot. The core never
// dictates where a host process keeps these; it only requires the
// round-trip contract: what Save writes, Load must read back unchanged.
type Sink interface {
	Save(m *AgentMetrics) error
	Load(agentID string) (*AgentMetrics, error)
}

// MemorySink is an in-process Sink, useful for tests and for hosts that
// don't need durability across restarts.
type MemorySink struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{items: make(map[string][]byte)}
}

func (s *MemorySink) Save(m *AgentMetrics) error {
	data, err := m.Serialize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[m.AgentID] = data
	return nil
}

func (s *MemorySink) Load(agentID string) (*AgentMetrics, error) {
	s.mu.RLock()
	data, ok := s.items[agentID]
	s.mu.RUnlock()
	if !ok {
		return nil, coreerrors.New(coreerrors.KindNotFound, "no checkpoint for agent "+agentID)
	}
	return Deserialize(data)
}

// FileSink persists one JSON file per agent id under Dir.
type FileSink struct {
	Dir string
}

// NewFileSink creates a FileSink rooted at dir, creating it if necessary.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}
	return &FileSink{Dir: dir}, nil
}

func (s *FileSink) path(agentID string) string {
	return filepath.Join(s.Dir, agentID+".json")
}

func (s *FileSink) Save(m *AgentMetrics) error {
	data, err := m.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(m.AgentID), data, 0o644)
}

func (s *FileSink) Load(agentID string) (*AgentMetrics, error) {
	data, err := os.ReadFile(s.path(agentID))
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindNotFound, "no checkpoint for agent "+agentID, err)
	}
	return Deserialize(data)
}
