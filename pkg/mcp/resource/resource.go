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

// Package resource implements the Resource Manager: resource and resource
// template listing, a read-through cache invalidated by server push
// notifications, and local subscription tracking.
package resource

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hectorcore/substrate/pkg/coreerrors"
	"github.com/hectorcore/substrate/pkg/eventbus"
	"github.com/hectorcore/substrate/pkg/mcp/protocol"
)

// Resource is one concrete resource advertised by a server.
type Resource struct {
	Server      string
	URI         string
	Name        string
	Description string
	MimeType    string
}

// Template is a parameterized resource URI pattern, e.g.
// "file:///{path}", expandable by substituting named parameters.
type Template struct {
	Server      string
	URITemplate string
	Name        string
	Description string
	MimeType    string
}

// Expand substitutes params into the template's {name} placeholders.
func (t Template) Expand(params map[string]string) string {
	uri := t.URITemplate
	for k, v := range params {
		uri = strings.ReplaceAll(uri, "{"+k+"}", v)
	}
	return uri
}

// Content is the body of a read_resource call.
type Content struct {
	Text     string
	Blob     string
	MimeType string
}

// Changed is published when a subscribed resource is updated server-side.
type Changed struct {
	Server string
	URI    string
}

// Sender is the subset of connection behavior the Resource Manager needs.
type Sender interface {
	Send(ctx context.Context, server, method string, params any) (*protocol.Response, error)
	Servers() []string
}

type cacheKey struct {
	server string
	uri    string
}

type cacheEntry struct {
	content   Content
	expiresAt time.Time
}

// Manager is the Resource Manager.
type Manager struct {
	sender   Sender
	cacheTTL time.Duration
	events   *eventbus.Bus[Changed]

	mu    sync.Mutex
	cache map[cacheKey]*cacheEntry
	fill  singleflight.Group // de-dupes concurrent cache misses per (server, uri)

	subMu sync.Mutex
	subs  map[cacheKey]struct{}
}

// NewManager builds a Resource Manager over sender. cacheTTL is the
// read-through cache lifetime for read_resource; zero disables caching.
func NewManager(sender Sender, cacheTTL time.Duration, events *eventbus.Bus[Changed]) *Manager {
	return &Manager{
		sender:   sender,
		cacheTTL: cacheTTL,
		events:   events,
		cache:    make(map[cacheKey]*cacheEntry),
		subs:     make(map[cacheKey]struct{}),
	}
}

// ListResources lists resources on server, or across every known server
// when server is empty.
func (m *Manager) ListResources(ctx context.Context, server string) ([]Resource, []error) {
	servers := []string{server}
	if server == "" {
		servers = m.sender.Servers()
	}

	var (
		all  []Resource
		errs []error
	)
	for _, s := range servers {
		resp, err := m.sender.Send(ctx, s, protocol.MethodResourcesList, nil)
		if err != nil {
			errs = append(errs, wrapSendError("list resources on "+s, err))
			continue
		}
		var raw struct {
			Resources []struct {
				URI         string `json:"uri"`
				Name        string `json:"name"`
				Description string `json:"description"`
				MimeType    string `json:"mimeType"`
			} `json:"resources"`
		}
		if err := json.Unmarshal(resp.Result, &raw); err != nil {
			errs = append(errs, coreerrors.Wrap(coreerrors.KindProtocol, "decode resources/list result", err))
			continue
		}
		for _, r := range raw.Resources {
			all = append(all, Resource{Server: s, URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MimeType})
		}
	}
	return all, errs
}

// ListTemplates lists resource templates on server, or across every known
// server when server is empty.
func (m *Manager) ListTemplates(ctx context.Context, server string) ([]Template, []error) {
	servers := []string{server}
	if server == "" {
		servers = m.sender.Servers()
	}

	var (
		all  []Template
		errs []error
	)
	for _, s := range servers {
		resp, err := m.sender.Send(ctx, s, protocol.MethodResourcesTemplatesList, nil)
		if err != nil {
			errs = append(errs, wrapSendError("list resource templates on "+s, err))
			continue
		}
		var raw struct {
			Templates []struct {
				URITemplate string `json:"uriTemplate"`
				Name        string `json:"name"`
				Description string `json:"description"`
				MimeType    string `json:"mimeType"`
			} `json:"resourceTemplates"`
		}
		if err := json.Unmarshal(resp.Result, &raw); err != nil {
			errs = append(errs, coreerrors.Wrap(coreerrors.KindProtocol, "decode resources/templates/list result", err))
			continue
		}
		for _, t := range raw.Templates {
			all = append(all, Template{Server: s, URITemplate: t.URITemplate, Name: t.Name, Description: t.Description, MimeType: t.MimeType})
		}
	}
	return all, errs
}

// ReadResource returns uri's content from server, through the read-through
// cache.
func (m *Manager) ReadResource(ctx context.Context, server, uri string) (Content, error) {
	key := cacheKey{server: server, uri: uri}

	m.mu.Lock()
	entry, ok := m.cache[key]
	if ok && time.Now().Before(entry.expiresAt) {
		content := entry.content
		m.mu.Unlock()
		return content, nil
	}
	m.mu.Unlock()

	// Concurrent misses on the same (server, uri) collapse onto one
	// resources/read round trip instead of each firing its own request.
	fillKey := server + "\x00" + uri
	v, err, _ := m.fill.Do(fillKey, func() (any, error) {
		return m.fetchResource(ctx, key, server, uri)
	})
	if err != nil {
		return Content{}, err
	}
	return v.(Content), nil
}

func (m *Manager) fetchResource(ctx context.Context, key cacheKey, server, uri string) (Content, error) {
	resp, err := m.sender.Send(ctx, server, protocol.MethodResourcesRead, map[string]string{"uri": uri})
	if err != nil {
		return Content{}, wrapSendError("read resource "+uri, err)
	}

	var raw struct {
		Contents []struct {
			Text     string `json:"text"`
			Blob     string `json:"blob"`
			MimeType string `json:"mimeType"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(resp.Result, &raw); err != nil {
		return Content{}, coreerrors.Wrap(coreerrors.KindProtocol, "decode resources/read result", err)
	}
	if len(raw.Contents) == 0 {
		return Content{}, coreerrors.New(coreerrors.KindNotFound, "empty resource content: "+uri)
	}

	content := Content{Text: raw.Contents[0].Text, Blob: raw.Contents[0].Blob, MimeType: raw.Contents[0].MimeType}

	if m.cacheTTL > 0 {
		m.mu.Lock()
		m.cache[key] = &cacheEntry{content: content, expiresAt: time.Now().Add(m.cacheTTL)}
		m.mu.Unlock()
	}
	return content, nil
}

// Subscribe requests push notifications for uri on server and records the
// subscription locally.
func (m *Manager) Subscribe(ctx context.Context, server, uri string) error {
	if _, err := m.sender.Send(ctx, server, protocol.MethodResourcesSubscribe, map[string]string{"uri": uri}); err != nil {
		return wrapSendError("subscribe "+uri, err)
	}
	m.subMu.Lock()
	m.subs[cacheKey{server: server, uri: uri}] = struct{}{}
	m.subMu.Unlock()
	return nil
}

// Unsubscribe cancels a prior Subscribe.
func (m *Manager) Unsubscribe(ctx context.Context, server, uri string) error {
	m.subMu.Lock()
	delete(m.subs, cacheKey{server: server, uri: uri})
	m.subMu.Unlock()
	if _, err := m.sender.Send(ctx, server, protocol.MethodResourcesUnsubscribe, map[string]string{"uri": uri}); err != nil {
		return wrapSendError("unsubscribe "+uri, err)
	}
	return nil
}

// wrapSendError adds context to a failed send while preserving the error's
// existing kind (cancellation, timeout, a server-side protocol rejection);
// only an untagged error from the wire defaults to a transport error.
func wrapSendError(msg string, err error) error {
	kind := coreerrors.KindOf(err)
	if kind == "" {
		kind = coreerrors.KindTransport
	}
	return coreerrors.Wrap(kind, msg, err)
}

// OnResourceUpdated invalidates the cached content for (server, uri) and
// publishes a Changed event. Called by the fabric when a connection's
// reader surfaces a resources/updated notification.
func (m *Manager) OnResourceUpdated(server, uri string) {
	m.mu.Lock()
	delete(m.cache, cacheKey{server: server, uri: uri})
	m.mu.Unlock()

	if m.events != nil {
		m.events.Publish(Changed{Server: server, URI: uri})
	}
}
