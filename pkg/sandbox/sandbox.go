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

// Package sandbox implements the per-agent execution envelope: resource
// quotas, a tool permission gate, and a small lifecycle state machine that
// survives quota overflow by suspending rather than corrupting state.
package sandbox

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a sandbox's lifecycle position.
type State string

const (
	StateActive     State = "active"
	StateSuspended  State = "suspended"
	StateTerminated State = "terminated"
)

// Restrictions are the immutable quotas and tool lists a sandbox enforces.
type Restrictions struct {
	MaxTokens      int
	MaxFiles       int
	MaxToolResults int

	// AllowedTools, if non-nil, is the exhaustive allow-list. Nil means
	// "any tool not denied is allowed".
	AllowedTools map[string]struct{}

	// DeniedTools always wins over AllowedTools.
	DeniedTools map[string]struct{}
}

// NewRestrictions builds a Restrictions with only numeric quotas set.
func NewRestrictions(maxTokens, maxFiles, maxToolResults int) Restrictions {
	return Restrictions{MaxTokens: maxTokens, MaxFiles: maxFiles, MaxToolResults: maxToolResults}
}

// Usage tracks a sandbox's running resource consumption.
type Usage struct {
	TokensUsed       int
	FilesAccessed    int
	ToolResultsCount int
	ToolCallsMade    int
}

// Sandbox is a single SandboxedContext: identity, ownership, usage, and
// lifecycle state.
type Sandbox struct {
	ID           string
	AgentID      string
	ParentID     string // empty if this is a root context
	Restrictions Restrictions
	ExpiresAt    *time.Time

	mu    sync.RWMutex
	usage Usage
	state State
}

// New creates a sandbox owned by agentID, optionally as a child of parentID.
// The sandbox starts Active.
func New(agentID, parentID string, restrictions Restrictions, ttl time.Duration) *Sandbox {
	sb := &Sandbox{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		ParentID:     parentID,
		Restrictions: restrictions,
		state:        StateActive,
	}
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		sb.ExpiresAt = &exp
	}
	return sb
}

// State returns the current lifecycle state.
func (s *Sandbox) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Usage returns a snapshot of current resource consumption.
func (s *Sandbox) Usage() Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage
}

// IsExpired reports whether ExpiresAt has elapsed.
func (s *Sandbox) IsExpired() bool {
	return s.ExpiresAt != nil && time.Now().After(*s.ExpiresAt)
}

// ErrSandboxNotActive is returned by the Record* methods once a sandbox
// has left StateActive: a suspended or terminated sandbox accepts no
// further resource consumption, regardless of remaining quota headroom.
var ErrSandboxNotActive = &QuotaExceededError{Field: "state", Limit: 0}

// RecordTokens increments token usage by n. If the running total would
// exceed MaxTokens, the sandbox transitions to Suspended and the call
// fails; otherwise the usage is recorded.
func (s *Sandbox) RecordTokens(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return ErrSandboxNotActive
	}
	if s.usage.TokensUsed+n > s.Restrictions.MaxTokens {
		s.transitionLocked(StateSuspended)
		return quotaErr("tokens_used", s.Restrictions.MaxTokens)
	}
	s.usage.TokensUsed += n
	return nil
}

// RecordFileAccess increments the files-accessed counter, bounded by
// MaxFiles.
func (s *Sandbox) RecordFileAccess() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return ErrSandboxNotActive
	}
	if s.usage.FilesAccessed+1 > s.Restrictions.MaxFiles {
		s.transitionLocked(StateSuspended)
		return quotaErr("files_accessed", s.Restrictions.MaxFiles)
	}
	s.usage.FilesAccessed++
	return nil
}

// RecordToolResult increments the tool-results counter, bounded by
// MaxToolResults.
func (s *Sandbox) RecordToolResult() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return ErrSandboxNotActive
	}
	if s.usage.ToolResultsCount+1 > s.Restrictions.MaxToolResults {
		s.transitionLocked(StateSuspended)
		return quotaErr("tool_results_count", s.Restrictions.MaxToolResults)
	}
	s.usage.ToolResultsCount++
	return nil
}

// RecordToolCall increments the tool-calls-made counter. This counter has
// no configured limit; it exists for metrics and checkpoint round-trips.
func (s *Sandbox) RecordToolCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.ToolCallsMade++
}

// IsToolAllowed reports whether name passes the tool gate: a denied list
// always wins; otherwise, if an allow-list is configured, membership is
// required; with neither list set, every tool is allowed.
func (s *Sandbox) IsToolAllowed(name string) bool {
	if _, denied := s.Restrictions.DeniedTools[name]; denied {
		return false
	}
	if s.Restrictions.AllowedTools == nil {
		return true
	}
	_, allowed := s.Restrictions.AllowedTools[name]
	return allowed
}

func quotaErr(field string, limit int) error {
	return &QuotaExceededError{Field: field, Limit: limit}
}

// QuotaExceededError reports which quota field was exceeded.
type QuotaExceededError struct {
	Field string
	Limit int
}

func (e *QuotaExceededError) Error() string {
	if e.Field == "state" {
		return "sandbox is not active"
	}
	return "quota exceeded: " + e.Field
}
