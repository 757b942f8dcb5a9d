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

// Package checkpoint persists agent metric snapshots: tokens used, calls
// made, tool results, and errors, keyed by agent id. Full execution-state
// recovery and HITL resume are session/runner-surface concerns and out of
// scope here.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// AgentMetrics is the per-agent snapshot a checkpoint round-trips:
// tokens, calls, tool results, errors, and status.
type AgentMetrics struct {
	AgentID        string    `json:"agent_id"`
	TokensUsed     float64   `json:"tokens_used"`
	CallsMade      float64   `json:"calls_made"`
	ToolResults    float64   `json:"tool_results"`
	Errors         float64   `json:"errors"`
	Status         string    `json:"status"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Serialize encodes m as JSON.
func (m *AgentMetrics) Serialize() ([]byte, error) {
	return json.Marshal(m)
}

// Deserialize decodes JSON produced by Serialize.
func Deserialize(data []byte) (*AgentMetrics, error) {
	var m AgentMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("deserialize agent metrics: %w", err)
	}
	return &m, nil
}
