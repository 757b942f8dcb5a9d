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

// Package statestore implements the in-process shared key/value store used
// to coordinate agents: a value store with watch notifications, an event
// bus, distributed-style (in-process) locking with FIFO waiters, and
// atomic compare-and-swap / increment.
//
// The store is not a distributed system: "lock" means coordinated mutual
// exclusion among in-process agents, not cross-host consensus.
package statestore

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hectorcore/substrate/pkg/eventbus"
)

// EventKind tags the shape of an Event.
type EventKind string

const (
	EventChanged      EventKind = "changed"
	EventDeleted      EventKind = "deleted"
	EventCleared      EventKind = "cleared"
	EventLockAcquired EventKind = "lock_acquired"
	EventLockReleased EventKind = "lock_released"
)

// Event is published on the store-wide event bus for every mutation.
type Event struct {
	Kind     EventKind
	Key      string
	Value    any
	OldValue any
	Lock     *Lock
}

// Lock represents a held (or formerly held) exclusive claim on a key.
type Lock struct {
	ID         string
	Key        string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  *time.Time
}

// IsExpired reports whether the lock's TTL, if any, has elapsed.
func (l *Lock) IsExpired() bool {
	return l.ExpiresAt != nil && time.Now().After(*l.ExpiresAt)
}

// WatchHandle identifies a single watch subscription for unsubscription.
type WatchHandle struct {
	key string
	id  int
}

// Stats is a diagnostic snapshot of store occupancy.
type Stats struct {
	StateSize     int
	WatchersCount int // number of distinct keys being watched
	TotalWatchers int // total watcher callbacks across all keys
	LocksCount    int
	WaitQueueSize int
}

type watcherEntry struct {
	id       int
	callback func(value any, ok bool)
}

type lockWaiter struct {
	holder string
	ttl    *time.Duration
	result chan *Lock
}

// Store is the shared state store. The zero value is not usable; use New.
type Store struct {
	mu    sync.Mutex
	state map[string]any

	watchers    map[string][]watcherEntry
	nextWatchID int

	locks         map[string]*Lock
	lockWaitQueue map[string][]*lockWaiter

	events *eventbus.Bus[Event]

	defaultLockTTL time.Duration
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithDefaultLockTTL sets the TTL applied to locks acquired with a zero
// ttl argument. Without it, a zero ttl means no expiry.
func WithDefaultLockTTL(d time.Duration) Option {
	return func(s *Store) { s.defaultLockTTL = d }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		state:         make(map[string]any),
		watchers:      make(map[string][]watcherEntry),
		locks:         make(map[string]*Lock),
		lockWaitQueue: make(map[string][]*lockWaiter),
		events:        eventbus.New[Event](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a listener on the store-wide event bus and returns an
// unsubscribe function.
func (s *Store) Subscribe(listener func(Event)) (unsubscribe func()) {
	return s.events.Subscribe(listener)
}

// Get returns the value stored at key, if any.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	return v, ok
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state[key]
	return ok
}

// Keys returns a snapshot of all keys currently set.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.state))
	for k := range s.state {
		keys = append(keys, k)
	}
	return keys
}

// Set stores value at key, emitting Changed to watchers of key and to the
// event bus once the mutation has committed.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	old, hadOld := s.state[key]
	s.state[key] = value
	watchersSnapshot := append([]watcherEntry(nil), s.watchers[key]...)
	s.mu.Unlock()

	var oldValue any
	if hadOld {
		oldValue = old
	}
	notifyWatchers(watchersSnapshot, value, true)
	s.events.Publish(Event{Kind: EventChanged, Key: key, Value: value, OldValue: oldValue})
}

// Delete removes key, emitting Deleted with the former value (nil if the
// key was not present).
func (s *Store) Delete(key string) {
	s.mu.Lock()
	old, hadOld := s.state[key]
	delete(s.state, key)
	watchersSnapshot := append([]watcherEntry(nil), s.watchers[key]...)
	s.mu.Unlock()

	var oldValue any
	if hadOld {
		oldValue = old
	}
	notifyWatchers(watchersSnapshot, nil, false)
	s.events.Publish(Event{Kind: EventDeleted, Key: key, OldValue: oldValue})
}

// Clear removes every key, emitting one Cleared event (watchers are not
// individually notified; they should observe Cleared on the event bus).
func (s *Store) Clear() {
	s.mu.Lock()
	s.state = make(map[string]any)
	s.mu.Unlock()

	s.events.Publish(Event{Kind: EventCleared})
}

// Watch registers callback to fire whenever key changes (Set) or is removed
// (Delete). The callback receives (value, true) on a set and (nil, false)
// on a delete. It fires synchronously, after the mutation commits; a
// panicking callback is isolated and cannot corrupt store state.
func (s *Store) Watch(key string, callback func(value any, ok bool)) WatchHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatchID
	s.nextWatchID++
	s.watchers[key] = append(s.watchers[key], watcherEntry{id: id, callback: callback})
	return WatchHandle{key: key, id: id}
}

// Unwatch removes a previously registered watch.
func (s *Store) Unwatch(h WatchHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.watchers[h.key]
	for i, e := range entries {
		if e.id == h.id {
			s.watchers[h.key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(s.watchers[h.key]) == 0 {
		delete(s.watchers, h.key)
	}
}

func notifyWatchers(entries []watcherEntry, value any, ok bool) {
	for _, e := range entries {
		invokeWatcher(e.callback, value, ok)
	}
}

func invokeWatcher(callback func(any, bool), value any, ok bool) {
	defer func() { _ = recover() }()
	callback(value, ok)
}

// Stats returns a diagnostic snapshot of store occupancy.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	totalWatchers := 0
	for _, entries := range s.watchers {
		totalWatchers += len(entries)
	}
	waitQueueSize := 0
	for _, q := range s.lockWaitQueue {
		waitQueueSize += len(q)
	}
	return Stats{
		StateSize:     len(s.state),
		WatchersCount: len(s.watchers),
		TotalWatchers: totalWatchers,
		LocksCount:    len(s.locks),
		WaitQueueSize: waitQueueSize,
	}
}

// CompareAndSwap sets key to newValue iff the current value equals expected
// (compared with ==, which is sufficient for the comparable primitives and
// identity-compared structs this store is used with). It returns whether
// the swap happened. Concurrent CAS calls on the same store instance
// serialize on the store mutex, so at most one succeeds per contested
// value.
func (s *Store) CompareAndSwap(key string, expected, newValue any) bool {
	s.mu.Lock()
	current, ok := s.state[key]
	if !casMatches(ok, current, expected) {
		s.mu.Unlock()
		return false
	}
	s.state[key] = newValue
	watchersSnapshot := append([]watcherEntry(nil), s.watchers[key]...)
	s.mu.Unlock()

	notifyWatchers(watchersSnapshot, newValue, true)
	s.events.Publish(Event{Kind: EventChanged, Key: key, Value: newValue, OldValue: current})
	return true
}

func casMatches(ok bool, current, expected any) bool {
	if !ok {
		return expected == nil
	}
	return current == expected
}

// Increment adds delta to the integer stored at key (treating an absent key
// as 0) and returns the new value.
func (s *Store) Increment(key string, delta int64) int64 {
	s.mu.Lock()
	var current int64
	if v, ok := s.state[key]; ok {
		current = toInt64(v)
	}
	newValue := current + delta
	s.state[key] = newValue
	watchersSnapshot := append([]watcherEntry(nil), s.watchers[key]...)
	s.mu.Unlock()

	notifyWatchers(watchersSnapshot, newValue, true)
	s.events.Publish(Event{Kind: EventChanged, Key: key, Value: newValue, OldValue: current})
	return newValue
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func newLockID() string {
	return uuid.NewString()
}
