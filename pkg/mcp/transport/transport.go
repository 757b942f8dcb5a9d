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

// Package transport implements the three wire carriers the MCP fabric
// speaks JSON-RPC over: child-process stdio (newline-framed), WebSocket
// (one JSON object per text frame), and HTTP+SSE. Each exposes the same
// minimal Transport contract so the connection manager above stays carrier
// agnostic.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hectorcore/substrate/pkg/coreerrors"
	"github.com/hectorcore/substrate/pkg/httpclient"
)

// Kind names a transport variant, matching the MCP per-server config surface.
type Kind string

const (
	KindStdio     Kind = "stdio"
	KindWebSocket Kind = "websocket"
	KindHTTP      Kind = "http"
)

// Transport is a raw JSON-object carrier: one Read/Write pair per wire
// message, framing handled internally. The connection manager owns request
// ids, pending-response bookkeeping, and protocol semantics; a Transport
// only moves bytes.
type Transport interface {
	// Send writes one JSON-RPC message (request or notification).
	Send(ctx context.Context, msg any) error

	// Recv blocks for the next inbound JSON-RPC message (a response,
	// server-initiated request, or notification), returning its raw bytes.
	Recv(ctx context.Context) ([]byte, error)

	// Close releases the underlying carrier.
	Close() error
}

// StdioConfig configures a child-process transport.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
}

// Stdio speaks newline-delimited JSON-RPC over a child process's stdin/stdout.
type Stdio struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	writeMu sync.Mutex
}

// NewStdio starts cfg.Command and wires up newline-framed stdio.
func NewStdio(ctx context.Context, cfg StdioConfig) (*Stdio, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Cwd
	if len(cfg.Env) > 0 {
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = append(cmd.Environ(), env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindTransport, "stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindTransport, "stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindTransport, "start process", err)
	}

	return &Stdio{cmd: cmd, stdin: stdin, reader: bufio.NewReader(stdout)}, nil
}

func (s *Stdio) Send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindProtocol, "marshal message", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return coreerrors.Wrap(coreerrors.KindTransport, "write to stdin", err)
	}
	return nil
}

func (s *Stdio) Recv(ctx context.Context) ([]byte, error) {
	type result struct {
		line []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := s.reader.ReadBytes('\n')
		ch <- result{line: line, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, coreerrors.Wrap(coreerrors.KindTransport, "read from stdout", r.err)
		}
		return r.line, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cmd exposes the child process for lifecycle tracking.
func (s *Stdio) Cmd() *exec.Cmd { return s.cmd }

func (s *Stdio) Close() error {
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	URL     string
	Headers map[string]string
}

// WebSocket speaks one JSON object per text frame over a gorilla/websocket
// connection, matching the read/write-goroutine split used elsewhere in this
// codebase for concurrent socket access.
type WebSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWebSocket dials cfg.URL.
func NewWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocket, error) {
	header := http.Header{}
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindTransport, "websocket dial", err)
	}
	return &WebSocket{conn: conn}, nil
}

func (w *WebSocket) Send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindProtocol, "marshal message", err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return coreerrors.Wrap(coreerrors.KindTransport, "websocket write", err)
	}
	return nil
}

func (w *WebSocket) Recv(ctx context.Context) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		_, data, err := w.conn.ReadMessage()
		ch <- result{data: data, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, coreerrors.Wrap(coreerrors.KindTransport, "websocket read", r.err)
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *WebSocket) Close() error {
	return w.conn.Close()
}

// HTTPConfig configures an HTTP+SSE transport: POST for requests, SSE for
// server-initiated events.
type HTTPConfig struct {
	URL        string
	Headers    map[string]string
	MaxRetries int
	SSETimeout time.Duration
}

// HTTP sends one JSON-RPC request per POST, reading either a plain JSON
// body or the first complete SSE event back as the response. It has no
// independent push channel, so Recv only ever surfaces the response to the
// in-flight Send; server-initiated traffic on this transport is out of
// scope.
type HTTP struct {
	client  *httpclient.Client
	cfg     HTTPConfig
	sessMu  sync.RWMutex
	session string
	inbox   chan []byte
}

// NewHTTP builds an HTTP transport against cfg.URL.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.SSETimeout <= 0 {
		cfg.SSETimeout = 5 * time.Minute
	}
	return &HTTP{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
		cfg:   cfg,
		inbox: make(chan []byte, 8),
	}
}

func (h *HTTP) Send(ctx context.Context, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindProtocol, "marshal message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindTransport, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	h.sessMu.RLock()
	session := h.session
	h.sessMu.RUnlock()
	if session != "" {
		req.Header.Set("mcp-session-id", session)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindTransport, "http request", err)
	}
	defer resp.Body.Close()

	if newSession := resp.Header.Get("mcp-session-id"); newSession != "" {
		h.sessMu.Lock()
		h.session = newSession
		h.sessMu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return coreerrors.Wrap(coreerrors.KindTransport, fmt.Sprintf("http status %d", resp.StatusCode), fmt.Errorf("%s", string(data)))
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		data, err := readFirstSSEEvent(resp.Body, h.cfg.SSETimeout)
		if err != nil {
			return err
		}
		h.inbox <- data
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindTransport, "read response", err)
	}
	h.inbox <- data
	return nil
}

func (h *HTTP) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-h.inbox:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *HTTP) Close() error { return nil }

func readFirstSSEEvent(body io.ReadCloser, timeout time.Duration) ([]byte, error) {
	defer body.Close()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		reader := bufio.NewReader(body)
		var data strings.Builder
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if data.Len() > 0 {
					ch <- result{data: []byte(data.String())}
					return
				}
				ch <- result{err: coreerrors.New(coreerrors.KindTransport, "sse stream ended without a message")}
				return
			}
			s := strings.TrimSpace(string(line))
			if s == "" {
				if data.Len() > 0 {
					ch <- result{data: []byte(data.String())}
					return
				}
				continue
			}
			if strings.HasPrefix(s, "data:") {
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(s, "data:")))
			}
		}
	}()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-time.After(timeout):
		return nil, coreerrors.New(coreerrors.KindTimeout, "timeout reading sse response")
	}
}
