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

package statestore

import (
	"time"

	"github.com/hectorcore/substrate/pkg/coreerrors"
)

// Lock attempts to acquire an exclusive claim on key for holder. It
// succeeds if no unexpired lock exists on the key; an expired lock is swept
// lazily before the check. A zero ttl takes the store's configured default
// TTL, or no expiry when none is set.
func (s *Store) Lock(key, holder string, ttl time.Duration) (*Lock, error) {
	s.mu.Lock()
	s.sweepExpiredLocked(key)

	if existing, ok := s.locks[key]; ok && !existing.IsExpired() {
		s.mu.Unlock()
		return nil, coreerrors.New(coreerrors.KindLockTimeout, "lock held: "+key)
	}

	lock := s.grantLocked(key, holder, ttl)
	s.mu.Unlock()

	s.events.Publish(Event{Kind: EventLockAcquired, Key: key, Lock: lock})
	return lock, nil
}

// TryLock is a non-blocking alias of Lock; both variants never block.
func (s *Store) TryLock(key, holder string, ttl time.Duration) (*Lock, error) {
	return s.Lock(key, holder, ttl)
}

// WaitHandle resolves to a freshly granted lock once it becomes available.
type WaitHandle struct {
	result chan *Lock
}

// Wait blocks until the handle's lock is granted.
func (w *WaitHandle) Wait() *Lock {
	return <-w.result
}

// PrepareLock returns a WaitHandle that resolves immediately with a fresh
// lock if key is free, or enqueues holder FIFO behind the current lock and
// resolves once it is released.
func (s *Store) PrepareLock(key, holder string, ttl time.Duration) *WaitHandle {
	s.mu.Lock()
	s.sweepExpiredLocked(key)

	if existing, ok := s.locks[key]; !ok || existing.IsExpired() {
		lock := s.grantLocked(key, holder, ttl)
		s.mu.Unlock()
		s.events.Publish(Event{Kind: EventLockAcquired, Key: key, Lock: lock})

		ch := make(chan *Lock, 1)
		ch <- lock
		return &WaitHandle{result: ch}
	}

	ch := make(chan *Lock, 1)
	var ttlPtr *time.Duration
	if ttl > 0 {
		ttlPtr = &ttl
	}
	s.lockWaitQueue[key] = append(s.lockWaitQueue[key], &lockWaiter{
		holder: holder,
		ttl:    ttlPtr,
		result: ch,
	})
	s.mu.Unlock()

	return &WaitHandle{result: ch}
}

// Unlock releases lock, verifying the caller still holds the exact lock
// (by id). It wakes the next FIFO waiter, if any, handing them a fresh
// lock under the same key.
func (s *Store) Unlock(lock *Lock) error {
	s.mu.Lock()

	current, ok := s.locks[lock.Key]
	if !ok {
		s.mu.Unlock()
		return coreerrors.New(coreerrors.KindLockNotHeld, "no lock held on key: "+lock.Key)
	}
	if current.ID != lock.ID {
		s.mu.Unlock()
		return coreerrors.New(coreerrors.KindInvalidLock, "lock id mismatch for key: "+lock.Key)
	}

	delete(s.locks, lock.Key)
	next := s.popNextWaiterLocked(lock.Key)
	s.mu.Unlock()

	s.events.Publish(Event{Kind: EventLockReleased, Key: lock.Key, Lock: current})

	if next != nil {
		next.result <- next.grantedLock
		s.events.Publish(Event{Kind: EventLockAcquired, Key: lock.Key, Lock: next.grantedLock})
	}
	return nil
}

// CleanupExpiredLocks sweeps every key's lock for expiry and additionally
// hands a freed key to its next waiter, if any. It returns the number of
// locks removed.
func (s *Store) CleanupExpiredLocks() int {
	s.mu.Lock()
	removed := 0
	var freedGrants []*grantedWaiter
	for key, lock := range s.locks {
		if lock.IsExpired() {
			delete(s.locks, key)
			removed++
			if next := s.popNextWaiterLocked(key); next != nil {
				freedGrants = append(freedGrants, next)
			}
		}
	}
	s.mu.Unlock()

	for _, g := range freedGrants {
		g.result <- g.grantedLock
		s.events.Publish(Event{Kind: EventLockAcquired, Key: g.grantedLock.Key, Lock: g.grantedLock})
	}
	return removed
}

// grantLocked creates and records a new lock for key/holder. Caller must
// hold s.mu.
func (s *Store) grantLocked(key, holder string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = s.defaultLockTTL
	}
	lock := &Lock{
		ID:         newLockID(),
		Key:        key,
		Holder:     holder,
		AcquiredAt: time.Now(),
	}
	if ttl > 0 {
		exp := lock.AcquiredAt.Add(ttl)
		lock.ExpiresAt = &exp
	}
	s.locks[key] = lock
	return lock
}

// sweepExpiredLocked removes key's lock if expired. Caller must hold s.mu.
func (s *Store) sweepExpiredLocked(key string) {
	if lock, ok := s.locks[key]; ok && lock.IsExpired() {
		delete(s.locks, key)
	}
}

type grantedWaiter struct {
	result      chan *Lock
	grantedLock *Lock
}

// popNextWaiterLocked pops the FIFO head of key's wait queue, grants it a
// fresh lock (new id, same holder/ttl), and returns the pending delivery.
// The caller must hold s.mu and must deliver/publish after unlocking.
func (s *Store) popNextWaiterLocked(key string) *grantedWaiter {
	queue := s.lockWaitQueue[key]
	if len(queue) == 0 {
		return nil
	}
	next := queue[0]
	s.lockWaitQueue[key] = queue[1:]
	if len(s.lockWaitQueue[key]) == 0 {
		delete(s.lockWaitQueue, key)
	}

	var ttl time.Duration
	if next.ttl != nil {
		ttl = *next.ttl
	}
	lock := s.grantLocked(key, next.holder, ttl)
	return &grantedWaiter{result: next.result, grantedLock: lock}
}
