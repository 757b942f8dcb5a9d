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

package tool

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hectorcore/substrate/pkg/coreerrors"
	"github.com/hectorcore/substrate/pkg/mcp/permission"
	"github.com/hectorcore/substrate/pkg/mcp/protocol"
	"github.com/hectorcore/substrate/pkg/metrics"
)

// fakeSender stubs the connection manager's Sender interface so the Tool
// Manager can be exercised without a live transport.
type fakeSender struct {
	servers []string

	listResult json.RawMessage
	listErr    error

	callResult json.RawMessage
	callErr    error

	lastMethod string
	lastParams any
}

func (f *fakeSender) Send(ctx context.Context, server, method string, params any) (*protocol.Response, error) {
	f.lastMethod = method
	f.lastParams = params
	switch method {
	case protocol.MethodToolsList:
		if f.listErr != nil {
			return nil, f.listErr
		}
		return &protocol.Response{Result: f.listResult}, nil
	case protocol.MethodToolsCall:
		if f.callErr != nil {
			return nil, f.callErr
		}
		return &protocol.Response{Result: f.callResult}, nil
	}
	return nil, nil
}

func (f *fakeSender) SendWithTimeout(ctx context.Context, server, method string, params any, dur time.Duration) (*protocol.Response, error) {
	return f.Send(ctx, server, method, params)
}

func (f *fakeSender) CancelRequest(ctx context.Context, server, id string) error { return nil }

func (f *fakeSender) Servers() []string { return f.servers }

func toolsListResult(t *testing.T) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"tools": []map[string]any{
			{
				"name":        "echo",
				"description": "echoes input",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"message": map[string]any{"type": "string"},
					},
					"required": []string{"message"},
				},
			},
		},
	})
	require.NoError(t, err)
	return data
}

func TestListToolsCachesUntilInvalidated(t *testing.T) {
	sender := &fakeSender{servers: []string{"s1"}, listResult: toolsListResult(t)}
	m := NewManager(sender, nil, time.Minute)

	tools, errs := m.ListTools(context.Background(), "s1")
	require.Empty(t, errs)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)

	sender.listErr = assertErr("server now down")
	tools, errs = m.ListTools(context.Background(), "s1")
	require.Empty(t, errs, "cached result should be served without calling the sender again")
	require.Len(t, tools, 1)

	m.InvalidateCache("s1")
	_, errs = m.ListTools(context.Background(), "s1")
	require.Len(t, errs, 1)
}

func TestListToolsDeduplicatesConcurrentCacheMisses(t *testing.T) {
	sender := &countingListSender{fakeSender: fakeSender{servers: []string{"s1"}, listResult: toolsListResult(t)}}
	m := NewManager(sender, nil, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs := m.ListTools(context.Background(), "s1")
			assert.Empty(t, errs)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), sender.listCalls.Load(), "concurrent cache misses should collapse onto one tools/list call")
}

func TestCallToolRejectsInvalidArguments(t *testing.T) {
	sender := &fakeSender{servers: []string{"s1"}, listResult: toolsListResult(t)}
	m := NewManager(sender, nil, time.Minute)

	_, err := m.CallTool(context.Background(), "s1", "echo", map[string]any{})
	require.Error(t, err)
}

func TestCallToolDeniedByPermission(t *testing.T) {
	sender := &fakeSender{servers: []string{"s1"}, listResult: toolsListResult(t)}
	store := permission.NewStaticStore([]permission.Rule{{Pattern: "s1_echo", Effect: permission.EffectDeny}})
	m := NewManager(sender, permission.NewManager(store), time.Minute)

	_, err := m.CallTool(context.Background(), "s1", "echo", map[string]any{"message": "hi"})
	require.Error(t, err)
}

func TestCallToolSucceedsAndNormalizesResult(t *testing.T) {
	result, err := json.Marshal(map[string]any{
		"content": []map[string]any{{"type": "text", "text": "hello"}},
	})
	require.NoError(t, err)

	sender := &fakeSender{servers: []string{"s1"}, listResult: toolsListResult(t), callResult: result}
	m := NewManager(sender, nil, time.Minute)

	out, err := m.CallTool(context.Background(), "s1", "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "hello", out.Content[0].Text)
	assert.Equal(t, protocol.MethodToolsCall, sender.lastMethod)
}

// TestMetricsRecordToolCalls checks that every dispatched call, success
// or failure, is observed once.
func TestMetricsRecordToolCalls(t *testing.T) {
	result, err := json.Marshal(map[string]any{
		"content": []map[string]any{{"type": "text", "text": "hello"}},
	})
	require.NoError(t, err)

	sender := &fakeSender{servers: []string{"s1"}, listResult: toolsListResult(t), callResult: result}
	met := metrics.New()
	m := NewManager(sender, nil, time.Minute).WithMetrics(met)

	_, err = m.CallTool(context.Background(), "s1", "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(met.ToolCalls.WithLabelValues("s1", "echo")))
	assert.Equal(t, 1, testutil.CollectAndCount(met.ToolCallDuration))

	sender.callErr = assertErr("boom")
	m.InvalidateCache("s1")
	sender.listErr = nil
	_, err = m.CallTool(context.Background(), "s1", "echo", map[string]any{"message": "hi"})
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(met.ToolCallErrors.WithLabelValues("s1", "echo", "unknown")))
}

// TestListToolsPreservesErrorKind checks that a tagged failure from the
// connection layer keeps its kind through the list path instead of being
// reclassified as a transport error.
func TestListToolsPreservesErrorKind(t *testing.T) {
	sender := &fakeSender{servers: []string{"s1"}, listErr: coreerrors.New(coreerrors.KindCancelled, "request cancelled")}
	m := NewManager(sender, nil, time.Minute)

	_, errs := m.ListTools(context.Background(), "s1")
	require.Len(t, errs, 1)
	assert.True(t, coreerrors.IsKind(errs[0], coreerrors.KindCancelled), "got %v", errs[0])

	sender.listErr = assertErr("raw wire failure")
	_, errs = m.ListTools(context.Background(), "s1")
	require.Len(t, errs, 1)
	assert.True(t, coreerrors.IsKind(errs[0], coreerrors.KindTransport), "untagged errors default to transport, got %v", errs[0])
}

func TestCallToolsBatchPreservesInputOrder(t *testing.T) {
	result, err := json.Marshal(map[string]any{
		"content": []map[string]any{{"type": "text", "text": "ok"}},
	})
	require.NoError(t, err)

	sender := &fakeSender{servers: []string{"s1"}, listResult: toolsListResult(t), callResult: result}
	m := NewManager(sender, nil, time.Minute)

	calls := []BatchCall{
		{Server: "s1", Tool: "echo", Args: map[string]any{"message": "one"}},
		{Server: "s1", Tool: "missing", Args: map[string]any{}},
		{Server: "s1", Tool: "echo", Args: map[string]any{"message": "three"}},
	}
	results := m.CallToolsBatch(context.Background(), calls)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err, "unknown tool fails its own slot without aborting the batch")
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "ok", results[0].Result.Content[0].Text)
}

func TestCancelCallUnknownIDReturnsError(t *testing.T) {
	sender := &fakeSender{servers: []string{"s1"}}
	m := NewManager(sender, nil, time.Minute)
	assert.Error(t, m.CancelCall(context.Background(), "never-issued"))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

// countingListSender wraps fakeSender to count tools/list calls and
// introduce a brief delay so concurrent ListTools calls genuinely race on
// an empty cache instead of serializing by accident.
type countingListSender struct {
	fakeSender
	listCalls atomic.Int32
}

func (c *countingListSender) Send(ctx context.Context, server, method string, params any) (*protocol.Response, error) {
	if method == protocol.MethodToolsList {
		c.listCalls.Add(1)
		time.Sleep(5 * time.Millisecond)
	}
	return c.fakeSender.Send(ctx, server, method, params)
}
