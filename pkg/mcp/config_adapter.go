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

package mcp

import (
	"github.com/hectorcore/substrate/pkg/config"
	"github.com/hectorcore/substrate/pkg/mcp/lifecycle"
)

// ServerConfigFromConfig adapts the recognized per-server configuration
// surface (pkg/config) into the lifecycle manager's launch config.
func ServerConfigFromConfig(c config.MCPServerConfig) lifecycle.ServerConfig {
	return lifecycle.ServerConfig{
		Transport:          string(c.Transport),
		Command:            c.Command,
		Args:               c.Args,
		Env:                c.Env,
		Cwd:                c.Cwd,
		URL:                c.URL,
		Headers:            c.Headers,
		Enabled:            c.Enabled,
		ConnectionTimeout:  c.ConnectionTimeout,
		DefaultCallTimeout: c.DefaultCallTimeout,
		ToolCacheTTL:       c.ToolCacheTTL,
	}
}

// RegisterServersFromConfig registers every enabled server from a loaded
// configuration document. Disabled servers are skipped, not registered.
func (f *Fabric) RegisterServersFromConfig(servers map[string]config.MCPServerConfig) {
	for name, c := range servers {
		if !c.Enabled {
			continue
		}
		f.RegisterServer(name, ServerConfigFromConfig(c))
	}
}
