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

// Package config defines the recognized configuration surface of the
// orchestration core and loads it in layers: sane defaults, then a YAML
// file whose ${VAR} / ${VAR:-default} references are expanded from the
// environment before parsing.
//
// Only four shapes are recognized here deliberately: the core is not
// config-first the way a full agent framework is — it has no LLM, RAG,
// or server configuration of its own.
package config

import "time"

// SchedulerConfig configures the SubAgent Scheduler.
type SchedulerConfig struct {
	MaxConcurrency     int           `yaml:"max_concurrency"`
	StopOnFirstError   bool          `yaml:"stop_on_first_error"`
	RetryOnFailure     bool          `yaml:"retry_on_failure"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	AutoSummarize      bool          `yaml:"auto_summarize"`
	SummaryMaxTokens   int           `yaml:"summary_max_tokens"`
	ContextInheritance InheritanceConfig `yaml:"context_inheritance"`
}

// InheritanceConfig configures how a child sandbox inherits from its parent.
type InheritanceConfig struct {
	InheritMessages    bool `yaml:"inherit_messages"`
	InheritToolResults bool `yaml:"inherit_tool_results"`
	InheritFiles       bool `yaml:"inherit_files"`
	InheritKnowledge   bool `yaml:"inherit_knowledge"`
	CompressContext    bool `yaml:"compress_context"`
	TargetTokens       int  `yaml:"target_tokens"`
}

// SandboxRestrictionsConfig configures a Context Sandbox's quotas.
type SandboxRestrictionsConfig struct {
	MaxTokens      int      `yaml:"max_tokens"`
	MaxFiles       int      `yaml:"max_files"`
	MaxToolResults int      `yaml:"max_tool_results"`
	AllowedTools   []string `yaml:"allowed_tools,omitempty"`
	DeniedTools    []string `yaml:"denied_tools,omitempty"`
}

// StateStoreConfig configures the Shared State Store.
type StateStoreConfig struct {
	DefaultLockTTL time.Duration `yaml:"default_lock_ttl,omitempty"`
}

// Transport identifies how the fabric talks to an MCP server.
type Transport string

const (
	TransportStdio     Transport = "stdio"
	TransportWebSocket Transport = "websocket"
	TransportHTTP      Transport = "http"
)

// MCPServerConfig configures a single MCP server connection.
type MCPServerConfig struct {
	Transport          Transport         `yaml:"transport"`
	Command            string            `yaml:"command,omitempty"`
	Args               []string          `yaml:"args,omitempty"`
	Env                map[string]string `yaml:"env,omitempty"`
	Cwd                string            `yaml:"cwd,omitempty"`
	URL                string            `yaml:"url,omitempty"`
	Headers            map[string]string `yaml:"headers,omitempty"`
	Enabled            bool              `yaml:"enabled"`
	ConnectionTimeout  time.Duration     `yaml:"connection_timeout"`
	DefaultCallTimeout time.Duration     `yaml:"default_call_timeout"`
	ToolCacheTTL       time.Duration     `yaml:"tool_cache_ttl"`
}

// Config is the root configuration document recognized by the core.
type Config struct {
	Scheduler   SchedulerConfig            `yaml:"scheduler"`
	Sandbox     SandboxRestrictionsConfig  `yaml:"sandbox"`
	StateStore  StateStoreConfig           `yaml:"state_store"`
	MCPServers  map[string]MCPServerConfig `yaml:"mcp_servers"`
}

// Defaults returns a Config populated with conservative reference values:
// a 30s default lock TTL, bounded retries, and modest sandbox quotas.
func Defaults() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrency:   4,
			RetryOnFailure:   true,
			MaxRetries:       2,
			RetryDelay:       2 * time.Second,
			SummaryMaxTokens: 2048,
			ContextInheritance: InheritanceConfig{
				InheritMessages: true,
				TargetTokens:    4096,
			},
		},
		Sandbox: SandboxRestrictionsConfig{
			MaxTokens:      100_000,
			MaxFiles:       1_000,
			MaxToolResults: 1_000,
		},
		StateStore: StateStoreConfig{
			DefaultLockTTL: 30 * time.Second,
		},
		MCPServers: map[string]MCPServerConfig{},
	}
}
