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

// Package lifecycle owns the relationship between a named MCP server and
// its backing process: registration, start/stop, and readiness.
package lifecycle

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/hectorcore/substrate/pkg/coreerrors"
	"github.com/hectorcore/substrate/pkg/registry"
)

// ServerConfig is a registered server's launch configuration.
type ServerConfig struct {
	Transport         string // "stdio" | "websocket" | "http"
	Command           string
	Args              []string
	Env               map[string]string
	Cwd               string
	URL               string
	Headers           map[string]string
	Enabled           bool
	ConnectionTimeout time.Duration
	DefaultCallTimeout time.Duration
	ToolCacheTTL      time.Duration
}

// StartOptions controls a single Start call.
type StartOptions struct {
	WaitForReady bool
	ReadyTimeout time.Duration
}

type runningProcess struct {
	cmd   *exec.Cmd
	owned bool // started by this manager, so Stop must reap it
}

// Manager tracks registered servers and, for stdio servers, their child
// processes. Server registration is backed by the generic registry used
// elsewhere in this module (pkg/registry) since servers are looked up by
// name only — no ordering requirement the coordinator's agent table has.
type Manager struct {
	configs *registry.BaseRegistry[ServerConfig]

	mu      sync.RWMutex
	running map[string]*runningProcess
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		configs: registry.NewBaseRegistry[ServerConfig](),
		running: make(map[string]*runningProcess),
	}
}

// RegisterServer records cfg under name, replacing any prior registration.
func (m *Manager) RegisterServer(name string, cfg ServerConfig) {
	_ = m.configs.Remove(name) // registry.Register rejects duplicates; re-registration is allowed here
	_ = m.configs.Register(name, cfg)
}

// GetServer returns the registered config for name.
func (m *Manager) GetServer(name string) (ServerConfig, bool) {
	return m.configs.Get(name)
}

// Start launches name's configured command and tracks the process. Stdio
// servers are not started here — their process is spawned by the stdio
// transport at connect time and handed back via Track, so there is exactly
// one process per server. If opts.WaitForReady, Start blocks for a short
// grace period bounded by opts.ReadyTimeout — a deliberately simple
// readiness proxy since the process exposes no structured health signal at
// this layer.
func (m *Manager) Start(ctx context.Context, name string, opts StartOptions) error {
	cfg, ok := m.configs.Get(name)
	if !ok {
		return coreerrors.New(coreerrors.KindNotFound, "server not registered: "+name)
	}
	m.mu.Lock()
	if _, already := m.running[name]; already {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if cfg.Command == "" {
		m.mu.Lock()
		m.running[name] = &runningProcess{}
		m.mu.Unlock()
		return nil
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Cwd
	if len(cfg.Env) > 0 {
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = append(cmd.Environ(), env...)
	}
	if err := cmd.Start(); err != nil {
		return coreerrors.Wrap(coreerrors.KindTransport, "start server process", err)
	}

	m.mu.Lock()
	m.running[name] = &runningProcess{cmd: cmd, owned: true}
	m.mu.Unlock()

	if opts.WaitForReady {
		grace := 50 * time.Millisecond
		if opts.ReadyTimeout > 0 && opts.ReadyTimeout < grace {
			grace = opts.ReadyTimeout
		}
		select {
		case <-time.After(grace):
		case <-ctx.Done():
			return coreerrors.Wrap(coreerrors.KindCancelled, "start interrupted", ctx.Err())
		}
	}
	return nil
}

// Track records an externally spawned process (the stdio transport's child)
// under name, so IsRunning and GetRunningServers reflect it. The spawner
// keeps ownership: Stop drops the record without reaping.
func (m *Manager) Track(name string, cmd *exec.Cmd) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[name] = &runningProcess{cmd: cmd}
}

// Stop terminates name's process, if running. Processes registered via
// Track are only untracked — their owner (the transport) closes them.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	proc, ok := m.running[name]
	delete(m.running, name)
	m.mu.Unlock()
	if !ok || !proc.owned || proc.cmd == nil || proc.cmd.Process == nil {
		return nil
	}
	_ = proc.cmd.Process.Kill()
	return proc.cmd.Wait()
}

// IsRunning reports whether name currently has a tracked process/connection.
func (m *Manager) IsRunning(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.running[name]
	return ok
}

// GetRunningServers returns the names of every currently running server.
func (m *Manager) GetRunningServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.running))
	for name := range m.running {
		out = append(out, name)
	}
	return out
}
