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

// Package connection implements the MCP Connection Manager: per-connection
// state, a pending-request map keyed by request id, a reader goroutine that
// demultiplexes responses from server-initiated traffic, and cancellation.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hectorcore/substrate/pkg/coreerrors"
	"github.com/hectorcore/substrate/pkg/eventbus"
	"github.com/hectorcore/substrate/pkg/mcp/protocol"
	"github.com/hectorcore/substrate/pkg/mcp/transport"
)

// Event is published on disconnect and transport error.
type Event struct {
	Server string
	Reason string
}

// pendingOutcome is what a waiting Send receives: either the matched
// response or a terminal error (a transport failure that killed the
// connection), never both.
type pendingOutcome struct {
	resp *protocol.Response
	err  error
}

type pendingEntry struct {
	respCh chan pendingOutcome
}

// NotificationFunc handles a server-initiated notification: method plus
// raw params, routed here instead of being silently dropped.
type NotificationFunc func(method string, params json.RawMessage)

// Connection owns one transport: it runs a single reader goroutine that
// demultiplexes inbound bytes and routes responses to their waiting caller
// by request id; only the reader goroutine touches the transport's
// receive side.
type Connection struct {
	Server string

	tr    transport.Transport
	state atomic.Value // protocol.ConnectionState

	mu      sync.Mutex
	pending map[string]*pendingEntry
	nextID  int64

	events   *eventbus.Bus[Event]
	onNotify NotificationFunc

	readerDone chan struct{}
}

// Connect opens tr, performs the MCP handshake (initialize + initialized),
// and starts the reader goroutine. onNotify, if non-nil, is invoked for
// every server-initiated notification (e.g. tools/list_changed,
// resources/updated); it may be nil to drop them.
func Connect(ctx context.Context, server string, tr transport.Transport, clientInfo protocol.ClientInfo, events *eventbus.Bus[Event], onNotify NotificationFunc) (*Connection, error) {
	c := &Connection{
		Server:     server,
		tr:         tr,
		pending:    make(map[string]*pendingEntry),
		events:     events,
		onNotify:   onNotify,
		readerDone: make(chan struct{}),
	}
	c.setState(protocol.StateConnecting)
	go c.readLoop()

	if _, err := c.Send(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: "2024-11-05",
		ClientInfo:      clientInfo,
	}); err != nil {
		c.setState(protocol.StateError)
		_ = tr.Close()
		return nil, err
	}

	if err := c.notify(ctx, protocol.NotificationInitialized, nil); err != nil {
		c.setState(protocol.StateError)
		_ = tr.Close()
		return nil, err
	}

	c.setState(protocol.StateConnected)
	return c, nil
}

func (c *Connection) setState(s protocol.ConnectionState) { c.state.Store(s) }

// State returns the current connection lifecycle state.
func (c *Connection) State() protocol.ConnectionState {
	if v, ok := c.state.Load().(protocol.ConnectionState); ok {
		return v
	}
	return protocol.StateDisconnected
}

// Send issues a request and blocks until the matching response arrives,
// the context is cancelled, or the connection fails.
func (c *Connection) Send(ctx context.Context, method string, params any) (*protocol.Response, error) {
	id := fmt.Sprintf("%d", atomic.AddInt64(&c.nextID, 1))
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	entry := &pendingEntry{respCh: make(chan pendingOutcome, 1)}
	c.mu.Lock()
	c.pending[id] = entry
	c.mu.Unlock()

	if err := c.tr.Send(ctx, req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		c.fail(err.Error())
		return nil, err
	}

	select {
	case outcome := <-entry.respCh:
		if outcome.err != nil {
			return nil, outcome.err
		}
		if outcome.resp.Error != nil {
			return outcome.resp, coreerrors.Wrap(coreerrors.KindProtocol, outcome.resp.Error.Message, outcome.resp.Error)
		}
		return outcome.resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, coreerrors.New(coreerrors.KindCancelled, "request cancelled")
	}
}

// SendWithTimeout is Send bounded by dur; a timed-out call fails Timeout.
func (c *Connection) SendWithTimeout(ctx context.Context, method string, params any, dur time.Duration) (*protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, dur)
	defer cancel()
	resp, err := c.Send(ctx, method, params)
	if err != nil && ctx.Err() != nil {
		return nil, coreerrors.Wrap(coreerrors.KindTimeout, "request timed out", err)
	}
	return resp, err
}

func (c *Connection) notify(ctx context.Context, method string, params any) error {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.tr.Send(ctx, n)
}

// CancelRequest removes id's pending entry (if any) and posts a
// $/cancelRequest notification to the server.
func (c *Connection) CancelRequest(ctx context.Context, id string) error {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
	return c.notify(ctx, protocol.NotificationCancelRequest, protocol.CancelRequestParams{ID: id})
}

// inboundMessage covers both shapes a frame can take: a response (id +
// result/error) or a server-initiated notification (method + params, no
// id expecting a reply from us).
type inboundMessage struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *protocol.RPCError `json:"error"`
}

// readLoop demultiplexes inbound bytes: messages carrying an id and a
// result/error are routed to the waiting Send call; messages carrying a
// method are handed to onNotify. Server-initiated requests (method + id)
// are not answered at this layer — this substrate never runs a server, so
// it never needs to serve the inbound half of the protocol.
func (c *Connection) readLoop() {
	defer close(c.readerDone)
	ctx := context.Background()
	for {
		data, err := c.tr.Recv(ctx)
		if err != nil {
			c.fail(err.Error())
			return
		}

		var msg inboundMessage
		if jsonErr := json.Unmarshal(data, &msg); jsonErr != nil {
			continue // malformed frame: protocol error, connection stays healthy
		}

		if msg.Method != "" {
			if c.onNotify != nil {
				c.onNotify(msg.Method, msg.Params)
			}
			continue
		}
		if msg.ID == nil {
			continue
		}

		resp := protocol.Response{ID: msg.ID, Result: msg.Result, Error: msg.Error}
		key := fmt.Sprintf("%v", resp.ID)
		c.mu.Lock()
		entry, ok := c.pending[key]
		if ok {
			delete(c.pending, key)
		}
		c.mu.Unlock()
		if ok {
			entry.respCh <- pendingOutcome{resp: &resp}
		}
	}
}

// fail transitions to Error, fails every pending call with TransportError,
// and publishes Disconnected. During a deliberate Close the reader's Recv
// error is expected, so the Error transition and the event are skipped and
// only the pending calls are drained.
func (c *Connection) fail(reason string) {
	closing := c.State() == protocol.StateClosing
	if !closing {
		c.setState(protocol.StateError)
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingEntry)
	c.mu.Unlock()

	for _, entry := range pending {
		entry.respCh <- pendingOutcome{err: coreerrors.New(coreerrors.KindTransport, "transport error: "+reason)}
	}

	if c.events != nil && !closing {
		c.events.Publish(Event{Server: c.Server, Reason: reason})
	}
}

// Close transitions to Closing, closes the transport, and waits for the
// reader goroutine to exit.
func (c *Connection) Close() error {
	c.setState(protocol.StateClosing)
	err := c.tr.Close()
	<-c.readerDone
	c.setState(protocol.StateDisconnected)
	return err
}
