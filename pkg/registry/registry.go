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

// Package registry provides a generic, concurrency-safe name-keyed store
// used across the orchestration core wherever a component needs to track
// named entries by a string handle: MCP server configurations, scheduled
// task definitions, and similar lookup tables.
package registry

import (
	"sync"

	"github.com/hectorcore/substrate/pkg/coreerrors"
)

// Store is the operation set a named registry exposes.
type Store[T any] interface {
	Register(name string, item T) error
	Get(name string) (T, bool)
	List() []T
	Keys() []string
	Remove(name string) error
	Count() int
	Clear()
}

// BaseRegistry is a concurrency-safe map from name to item, embeddable by
// domain-specific registries (agent registries, server configs, tool
// catalogs) that want Register/Get/List/Remove for free.
type BaseRegistry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewBaseRegistry constructs an empty registry.
func NewBaseRegistry[T any]() *BaseRegistry[T] {
	return &BaseRegistry[T]{items: make(map[string]T)}
}

// Register adds item under name. It fails if name is empty or already
// taken; callers that want upsert semantics should Remove first.
func (r *BaseRegistry[T]) Register(name string, item T) error {
	if name == "" {
		return coreerrors.New(coreerrors.KindValidation, "registry: name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; exists {
		return coreerrors.New(coreerrors.KindValidation, "registry: \""+name+"\" already registered")
	}

	r.items[name] = item
	return nil
}

// Get returns the item registered under name, if any.
func (r *BaseRegistry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[name]
	return item, exists
}

// List returns every registered item, in no particular order.
func (r *BaseRegistry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]T, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	return items
}

// Keys returns every registered name, in no particular order.
func (r *BaseRegistry[T]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	return names
}

// Remove deletes the item registered under name.
func (r *BaseRegistry[T]) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; !exists {
		return coreerrors.New(coreerrors.KindNotFound, "registry: \""+name+"\" not found")
	}

	delete(r.items, name)
	return nil
}

// Count reports how many items are currently registered.
func (r *BaseRegistry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}

// Clear removes every registered item.
func (r *BaseRegistry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = make(map[string]T)
}
