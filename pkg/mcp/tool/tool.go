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

// Package tool implements the Tool Manager: per-server tool-list caching,
// argument validation against a tool's input schema, routed call dispatch
// with timeout and cancellation, and result normalization to the content
// block shape every MCP server speaks.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hectorcore/substrate/pkg/coreerrors"
	"github.com/hectorcore/substrate/pkg/mcp/permission"
	"github.com/hectorcore/substrate/pkg/mcp/protocol"
	"github.com/hectorcore/substrate/pkg/metrics"
)

// Tool describes one callable tool advertised by a server.
type Tool struct {
	Server      string
	Name        string
	Description string
	InputSchema map[string]any
}

// FullName is the "{server}_{tool}" identity used for permission checks and
// cross-server disambiguation.
func (t Tool) FullName() string { return t.Server + "_" + t.Name }

// Sender is the subset of the connection manager the Tool Manager depends
// on, kept narrow so it can be faked in tests without a live transport.
type Sender interface {
	Send(ctx context.Context, server, method string, params any) (*protocol.Response, error)
	SendWithTimeout(ctx context.Context, server, method string, params any, dur time.Duration) (*protocol.Response, error)
	CancelRequest(ctx context.Context, server, id string) error
	Servers() []string
}

type listCacheEntry struct {
	tools     []Tool
	expiresAt time.Time
}

// CallRecord tracks one in-flight or completed call, keyed by a generated
// call id, matching the pending-calls bookkeeping style used in the
// connection manager's pending-request map.
type CallRecord struct {
	ID        string
	Server    string
	Tool      string
	Cancelled bool
	Done      bool
	Result    *protocol.ToolCallResult
	Err       error
}

// Manager is the Tool Manager: list caching, validation, call dispatch.
type Manager struct {
	sender     Sender
	permission *permission.Manager
	cacheTTL   time.Duration

	mu    sync.Mutex
	cache map[string]*listCacheEntry // server -> cache entry
	fill  singleflight.Group         // de-dupes concurrent cache misses per server

	callsMu sync.Mutex
	calls   map[string]*CallRecord

	seq int64
	met *metrics.Metrics
}

// NewManager builds a Tool Manager over sender. perm may be nil to allow
// every call through. cacheTTL is the default per-server tools/list cache
// lifetime; zero disables caching.
func NewManager(sender Sender, perm *permission.Manager, cacheTTL time.Duration) *Manager {
	return &Manager{
		sender:     sender,
		permission: perm,
		cacheTTL:   cacheTTL,
		cache:      make(map[string]*listCacheEntry),
		calls:      make(map[string]*CallRecord),
	}
}

// WithMetrics attaches a Prometheus metric set, recording call counts,
// durations, and error kinds for every dispatched tools/call. Without it,
// CallTool and CallToolWithTimeout simply don't record anything.
func (m *Manager) WithMetrics(met *metrics.Metrics) *Manager {
	m.met = met
	return m
}

// ListTools returns every tool on server, or the union across all known
// servers when server is empty. A server whose tools/list call fails is
// logged by the caller via the returned error slice and otherwise skipped,
// so one unreachable server never blocks the rest of the fabric.
func (m *Manager) ListTools(ctx context.Context, server string) ([]Tool, []error) {
	if server != "" {
		tools, err := m.listOneServer(ctx, server)
		if err != nil {
			return nil, []error{err}
		}
		return tools, nil
	}

	var (
		all  []Tool
		errs []error
	)
	for _, s := range m.sender.Servers() {
		tools, err := m.listOneServer(ctx, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, tools...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Server != all[j].Server {
			return all[i].Server < all[j].Server
		}
		return all[i].Name < all[j].Name
	})
	return all, errs
}

func (m *Manager) listOneServer(ctx context.Context, server string) ([]Tool, error) {
	m.mu.Lock()
	entry, ok := m.cache[server]
	if ok && time.Now().Before(entry.expiresAt) {
		tools := entry.tools
		m.mu.Unlock()
		return tools, nil
	}
	m.mu.Unlock()

	// Concurrent cache misses for the same server collapse onto one
	// tools/list round trip instead of each firing its own request.
	v, err, _ := m.fill.Do(server, func() (any, error) {
		return m.fetchTools(ctx, server)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Tool), nil
}

func (m *Manager) fetchTools(ctx context.Context, server string) ([]Tool, error) {
	resp, err := m.sender.Send(ctx, server, protocol.MethodToolsList, nil)
	if err != nil {
		return nil, wrapSendError("list tools on "+server, err)
	}

	var raw struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &raw); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindProtocol, "decode tools/list result", err)
	}

	tools := make([]Tool, 0, len(raw.Tools))
	for _, t := range raw.Tools {
		tools = append(tools, Tool{Server: server, Name: t.Name, Description: t.Description, InputSchema: convertSchema(t.InputSchema)})
	}

	if m.cacheTTL > 0 {
		m.mu.Lock()
		m.cache[server] = &listCacheEntry{tools: tools, expiresAt: time.Now().Add(m.cacheTTL)}
		m.mu.Unlock()
	}
	return tools, nil
}

// InvalidateCache drops the cached tool list for server, forcing the next
// ListTools to re-fetch. Called in response to a tools/list_changed
// notification.
func (m *Manager) InvalidateCache(server string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, server)
}

// GetTool is a convenience lookup of one named tool through ListTools.
func (m *Manager) GetTool(ctx context.Context, server, name string) (*Tool, error) {
	tools, err := m.ListTools(ctx, server)
	if err != nil {
		return nil, err[0]
	}
	for i := range tools {
		if tools[i].Name == name {
			return &tools[i], nil
		}
	}
	return nil, coreerrors.New(coreerrors.KindNotFound, "tool not found: "+server+"_"+name)
}

// CallTool validates args against the tool's schema, checks permission,
// dispatches tools/call, and converts the result.
func (m *Manager) CallTool(ctx context.Context, server, name string, args map[string]any) (*protocol.ToolCallResult, error) {
	return m.callTool(ctx, server, name, args, 0)
}

// CallToolWithTimeout is CallTool bounded by dur.
func (m *Manager) CallToolWithTimeout(ctx context.Context, server, name string, args map[string]any, dur time.Duration) (*protocol.ToolCallResult, error) {
	return m.callTool(ctx, server, name, args, dur)
}

func (m *Manager) callTool(ctx context.Context, server, name string, args map[string]any, timeout time.Duration) (result *protocol.ToolCallResult, err error) {
	if m.met != nil {
		started := time.Now()
		defer func() { m.met.ObserveToolCall(server, name, time.Since(started), err) }()
	}

	t, err := m.GetTool(ctx, server, name)
	if err != nil {
		return nil, err
	}

	if len(t.InputSchema) > 0 {
		v := ValidateArgs(t.InputSchema, args)
		if !v.Valid {
			return nil, coreerrors.New(coreerrors.KindValidation, fmt.Sprintf("invalid arguments for %s: %v", t.FullName(), v.Errors)).WithDetail(v.Errors)
		}
	}

	if m.permission != nil {
		result := m.permission.IsAllowed(t.FullName(), args, nil)
		if !result.Allowed {
			reason := result.Reason
			if reason == "" {
				reason = "denied by policy"
			}
			return nil, coreerrors.New(coreerrors.KindPermissionDenied, "call denied: "+t.FullName()+": "+reason)
		}
	}

	callID := m.newCallID()
	record := &CallRecord{ID: callID, Server: server, Tool: name}
	m.callsMu.Lock()
	m.calls[callID] = record
	m.callsMu.Unlock()

	params := map[string]any{"name": name, "arguments": args}

	var resp *protocol.Response
	if timeout > 0 {
		resp, err = m.sender.SendWithTimeout(ctx, server, protocol.MethodToolsCall, params, timeout)
	} else {
		resp, err = m.sender.Send(ctx, server, protocol.MethodToolsCall, params)
	}

	m.callsMu.Lock()
	record.Done = true
	m.callsMu.Unlock()

	if err != nil {
		m.callsMu.Lock()
		record.Err = err
		m.callsMu.Unlock()
		return nil, err
	}

	result = convertResult(resp.Result)
	m.callsMu.Lock()
	record.Result = result
	m.callsMu.Unlock()
	return result, nil
}

// CancelCall cancels a call still in flight, if known.
func (m *Manager) CancelCall(ctx context.Context, callID string) error {
	m.callsMu.Lock()
	record, ok := m.calls[callID]
	if ok {
		record.Cancelled = true
	}
	m.callsMu.Unlock()
	if !ok {
		return coreerrors.New(coreerrors.KindNotFound, "unknown call id: "+callID)
	}
	return m.sender.CancelRequest(ctx, record.Server, callID)
}

// BatchCall is one request in a CallToolsBatch invocation.
type BatchCall struct {
	Server string
	Tool   string
	Args   map[string]any
}

// BatchResult holds one BatchCall's outcome. Batch results are returned in
// input order, so the i-th result belongs to the i-th call.
type BatchResult struct {
	Result *protocol.ToolCallResult
	Err    error
}

// CallToolsBatch executes every call concurrently, preserving input order
// in the returned slice regardless of completion order. Concurrency is
// bounded so a large batch can't flood every backing server at once; a
// per-call error is recorded in its own BatchResult rather than aborting
// the rest of the batch.
func (m *Manager) CallToolsBatch(ctx context.Context, calls []BatchCall) []BatchResult {
	results := make([]BatchResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency(len(calls)))
	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			res, err := m.CallTool(gctx, c.Server, c.Tool, c.Args)
			results[i] = BatchResult{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func batchConcurrency(n int) int {
	const maxInFlight = 8
	if n < maxInFlight {
		return n
	}
	return maxInFlight
}

// wrapSendError adds context to a failed send while preserving the error's
// existing kind (cancellation, timeout, a server-side protocol rejection);
// only an untagged error from the wire defaults to a transport error, so
// the scheduler's retry classification still sees the real failure.
func wrapSendError(msg string, err error) error {
	kind := coreerrors.KindOf(err)
	if kind == "" {
		kind = coreerrors.KindTransport
	}
	return coreerrors.Wrap(kind, msg, err)
}

func (m *Manager) newCallID() string {
	n := atomic.AddInt64(&m.seq, 1)
	return fmt.Sprintf("%d-%s", n, uuid.NewString())
}

// convertSchema flattens an mcp.ToolInputSchema into the plain map shape
// ValidateArgs consumes, round-tripping through JSON.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// convertResult normalizes a tools/call result payload into the content
// block shape. The response is parsed through mcp.ParseCallToolResult so
// its polymorphic Content items (text, image, embedded resource) are typed
// instead of hand-parsed; anything that fails to parse as a structured
// result (a raw string, a bare object from a non-conformant server) is
// wrapped as a single text block.
func convertResult(raw json.RawMessage) *protocol.ToolCallResult {
	structured, err := mcp.ParseCallToolResult(&raw)
	if err == nil && len(structured.Content) > 0 {
		blocks := make([]protocol.ContentBlock, 0, len(structured.Content))
		for _, item := range structured.Content {
			switch c := item.(type) {
			case mcp.TextContent:
				blocks = append(blocks, protocol.ContentBlock{Type: "text", Text: c.Text})
			case mcp.ImageContent:
				blocks = append(blocks, protocol.ContentBlock{Type: "image", Data: c.Data, MimeType: c.MIMEType})
			case mcp.EmbeddedResource:
				blocks = append(blocks, resourceBlock(c))
			default:
				data, _ := json.Marshal(item)
				blocks = append(blocks, protocol.ContentBlock{Type: "text", Text: string(data)})
			}
		}
		return &protocol.ToolCallResult{Content: blocks, IsError: structured.IsError}
	}

	var text string
	var generic any
	if err := json.Unmarshal(raw, &generic); err == nil {
		if s, ok := generic.(string); ok {
			text = s
		} else {
			text = string(raw)
		}
	} else {
		text = string(raw)
	}

	return &protocol.ToolCallResult{
		Content: []protocol.ContentBlock{{Type: "text", Text: text}},
	}
}

// resourceBlock flattens an embedded resource's contents (text or blob)
// into one "resource" content block.
func resourceBlock(c mcp.EmbeddedResource) protocol.ContentBlock {
	block := protocol.ContentBlock{Type: "resource"}
	switch rc := c.Resource.(type) {
	case mcp.TextResourceContents:
		block.URI = rc.URI
		block.Text = rc.Text
		block.MimeType = rc.MIMEType
	case mcp.BlobResourceContents:
		block.URI = rc.URI
		block.Data = rc.Blob
		block.MimeType = rc.MIMEType
	}
	return block
}
