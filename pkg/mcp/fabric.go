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

// Package mcp wires the protocol, transport, connection, lifecycle,
// permission, tool, and resource packages into one handle per deployment:
// the MCP Tool Fabric. There is no hidden singleton — callers construct a
// Fabric explicitly and hold onto it.
package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hectorcore/substrate/pkg/coreerrors"
	"github.com/hectorcore/substrate/pkg/eventbus"
	"github.com/hectorcore/substrate/pkg/mcp/connection"
	"github.com/hectorcore/substrate/pkg/mcp/lifecycle"
	"github.com/hectorcore/substrate/pkg/mcp/permission"
	"github.com/hectorcore/substrate/pkg/mcp/protocol"
	"github.com/hectorcore/substrate/pkg/mcp/resource"
	"github.com/hectorcore/substrate/pkg/mcp/tool"
	"github.com/hectorcore/substrate/pkg/mcp/transport"
	"github.com/hectorcore/substrate/pkg/metrics"
)

// ClientInfo identifies this process during the MCP handshake with every
// server the fabric connects to.
type ClientInfo = protocol.ClientInfo

// Fabric is the assembled MCP Tool Fabric: lifecycle-managed server
// processes, one Connection per connected server, and the Tool/Resource
// managers layered over all of them.
type Fabric struct {
	clientInfo ClientInfo
	lifecycle  *lifecycle.Manager
	events     *eventbus.Bus[connection.Event]
	resChanged *eventbus.Bus[resource.Changed]

	mu    sync.RWMutex
	conns map[string]*connection.Connection

	perm      *permission.Manager
	Tools     *tool.Manager
	Resources *resource.Manager
}

// New builds an empty Fabric. Register servers with RegisterServer, then
// Connect each before use.
func New(clientInfo ClientInfo, perm *permission.Manager, toolCacheTTL, resourceCacheTTL time.Duration) *Fabric {
	f := &Fabric{
		clientInfo: clientInfo,
		lifecycle:  lifecycle.NewManager(),
		events:     eventbus.New[connection.Event](),
		resChanged: eventbus.New[resource.Changed](),
		conns:      make(map[string]*connection.Connection),
		perm:       perm,
	}
	f.Tools = tool.NewManager(f, perm, toolCacheTTL)
	f.Resources = resource.NewManager(f, resourceCacheTTL, f.resChanged)
	return f
}

// WithMetrics attaches a Prometheus metric set to the fabric's Tool
// Manager, recording call counts, durations, and error kinds for every
// tools/call this fabric dispatches.
func (f *Fabric) WithMetrics(m *metrics.Metrics) *Fabric {
	f.Tools.WithMetrics(m)
	return f
}

// RegisterServer records a server's launch/dial configuration.
func (f *Fabric) RegisterServer(name string, cfg lifecycle.ServerConfig) {
	f.lifecycle.RegisterServer(name, cfg)
}

// Connect starts (if needed) and connects to name, performing the MCP
// handshake and wiring its notifications into the tool cache invalidation
// and resource-update paths. A stdio server's process is spawned by the
// transport itself and handed to the lifecycle manager for tracking; other
// transports run their configured command (if any) through lifecycle.Start
// before dialing.
func (f *Fabric) Connect(ctx context.Context, name string) error {
	cfg, ok := f.lifecycle.GetServer(name)
	if !ok {
		return coreerrors.New(coreerrors.KindNotFound, "server not registered: "+name)
	}

	stdio := transport.Kind(cfg.Transport) != transport.KindWebSocket && transport.Kind(cfg.Transport) != transport.KindHTTP
	if !stdio {
		if err := f.lifecycle.Start(ctx, name, lifecycle.StartOptions{WaitForReady: true, ReadyTimeout: cfg.ConnectionTimeout}); err != nil {
			return err
		}
	}

	tr, err := f.dial(ctx, cfg)
	if err != nil {
		return err
	}
	if st, ok := tr.(*transport.Stdio); ok {
		f.lifecycle.Track(name, st.Cmd())
	}

	conn, err := connection.Connect(ctx, name, tr, f.clientInfo, f.events, f.notifyHandler(name))
	if err != nil {
		_ = f.lifecycle.Stop(name)
		return err
	}

	f.mu.Lock()
	f.conns[name] = conn
	f.mu.Unlock()
	return nil
}

func (f *Fabric) dial(ctx context.Context, cfg lifecycle.ServerConfig) (transport.Transport, error) {
	switch transport.Kind(cfg.Transport) {
	case transport.KindWebSocket:
		return transport.NewWebSocket(ctx, transport.WebSocketConfig{URL: cfg.URL, Headers: cfg.Headers})
	case transport.KindHTTP:
		return transport.NewHTTP(transport.HTTPConfig{URL: cfg.URL, Headers: cfg.Headers}), nil
	default:
		return transport.NewStdio(ctx, transport.StdioConfig{Command: cfg.Command, Args: cfg.Args, Env: cfg.Env, Cwd: cfg.Cwd})
	}
}

// notifyHandler routes a connection's server-initiated notifications to
// the manager that cares: tools/list_changed invalidates the tool cache,
// resources/updated invalidates the resource cache and fires Changed.
func (f *Fabric) notifyHandler(server string) connection.NotificationFunc {
	return func(method string, params json.RawMessage) {
		switch method {
		case protocol.NotificationToolsListChanged:
			f.Tools.InvalidateCache(server)
		case protocol.NotificationResourcesUpdated:
			var p struct {
				URI string `json:"uri"`
			}
			if err := json.Unmarshal(params, &p); err == nil {
				f.Resources.OnResourceUpdated(server, p.URI)
			}
		}
	}
}

// Disconnect closes name's connection and stops its backing process.
func (f *Fabric) Disconnect(name string) error {
	f.mu.Lock()
	conn, ok := f.conns[name]
	delete(f.conns, name)
	f.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
	return f.lifecycle.Stop(name)
}

// Servers returns the names of every currently connected server,
// satisfying tool.Sender/resource.Sender.
func (f *Fabric) Servers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.conns))
	for name := range f.conns {
		out = append(out, name)
	}
	return out
}

// Send routes a request to server's connection, satisfying
// tool.Sender/resource.Sender.
func (f *Fabric) Send(ctx context.Context, server, method string, params any) (*protocol.Response, error) {
	conn, err := f.connectionFor(server)
	if err != nil {
		return nil, err
	}
	return conn.Send(ctx, method, params)
}

// SendWithTimeout routes a bounded request to server's connection.
func (f *Fabric) SendWithTimeout(ctx context.Context, server, method string, params any, dur time.Duration) (*protocol.Response, error) {
	conn, err := f.connectionFor(server)
	if err != nil {
		return nil, err
	}
	return conn.SendWithTimeout(ctx, method, params, dur)
}

// CancelRequest cancels an in-flight request on server's connection.
func (f *Fabric) CancelRequest(ctx context.Context, server, id string) error {
	conn, err := f.connectionFor(server)
	if err != nil {
		return err
	}
	return conn.CancelRequest(ctx, id)
}

func (f *Fabric) connectionFor(server string) (*connection.Connection, error) {
	f.mu.RLock()
	conn, ok := f.conns[server]
	f.mu.RUnlock()
	if !ok {
		return nil, coreerrors.New(coreerrors.KindNotFound, "not connected to server: "+server)
	}
	return conn, nil
}

// SubscribeDisconnects registers fn to be called whenever a connection
// fails or closes.
func (f *Fabric) SubscribeDisconnects(fn func(connection.Event)) (unsubscribe func()) {
	return f.events.Subscribe(fn)
}
