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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetDelete(t *testing.T) {
	s := New()
	_, ok := s.Get("k")
	assert.False(t, ok)

	s.Set("k", "v1")
	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	s.Delete("k")
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestWatchFiresAfterCommitWithNewValue(t *testing.T) {
	s := New()
	var gotValue any
	var gotOK bool
	var seenAfterCommit bool

	s.Watch("k", func(value any, ok bool) {
		gotValue, gotOK = value, ok
		// The mutation must be visible by the time the watcher runs.
		v, present := s.Get("k")
		seenAfterCommit = present && v == "v1"
	})

	s.Set("k", "v1")
	assert.Equal(t, "v1", gotValue)
	assert.True(t, gotOK)
	assert.True(t, seenAfterCommit)

	s.Delete("k")
	assert.Nil(t, gotValue)
	assert.False(t, gotOK)
}

func TestWatchUnsubscribe(t *testing.T) {
	s := New()
	calls := 0
	h := s.Watch("k", func(any, bool) { calls++ })
	s.Set("k", 1)
	assert.Equal(t, 1, calls)

	s.Unwatch(h)
	s.Set("k", 2)
	assert.Equal(t, 1, calls)
}

func TestWatcherPanicIsolated(t *testing.T) {
	s := New()
	s.Watch("k", func(any, bool) { panic("boom") })

	called := false
	s.Watch("k", func(any, bool) { called = true })

	assert.NotPanics(t, func() { s.Set("k", 1) })
	assert.True(t, called)
}

func TestEventBusOrdering(t *testing.T) {
	s := New()
	var kinds []EventKind
	s.Subscribe(func(e Event) { kinds = append(kinds, e.Kind) })

	s.Set("k", 1)
	s.Delete("k")
	s.Clear()

	require.Len(t, kinds, 3)
	assert.Equal(t, []EventKind{EventChanged, EventDeleted, EventCleared}, kinds)
}

func TestCompareAndSwap(t *testing.T) {
	s := New()
	s.Set("k", 10)

	ok := s.CompareAndSwap("k", 10, 20)
	assert.True(t, ok)
	v, _ := s.Get("k")
	assert.Equal(t, 20, v)

	ok = s.CompareAndSwap("k", 10, 30)
	assert.False(t, ok)
	v, _ = s.Get("k")
	assert.Equal(t, 20, v)
}

func TestCompareAndSwapOnMissingKey(t *testing.T) {
	s := New()
	ok := s.CompareAndSwap("missing", nil, "first")
	assert.True(t, ok)
	v, _ := s.Get("missing")
	assert.Equal(t, "first", v)
}

// TestCompareAndSwapConcurrent checks that only one writer wins a
// contested compare-and-swap under concurrency.
func TestCompareAndSwapConcurrent(t *testing.T) {
	s := New()
	s.Set("k", 0)

	var successes int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.CompareAndSwap("k", 0, 1) {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), successes)
}

func TestIncrement(t *testing.T) {
	s := New()
	assert.Equal(t, int64(5), s.Increment("counter", 5))
	assert.Equal(t, int64(8), s.Increment("counter", 3))
	assert.Equal(t, int64(6), s.Increment("other", 6))
}

// TestLockMutualExclusion checks at most one holder per key.
func TestLockMutualExclusion(t *testing.T) {
	s := New()
	l1, err := s.Lock("res", "a1", 0)
	require.NoError(t, err)
	require.NotNil(t, l1)

	_, err = s.Lock("res", "a2", 0)
	require.Error(t, err)

	require.NoError(t, s.Unlock(l1))

	l2, err := s.Lock("res", "a2", 0)
	require.NoError(t, err)
	assert.NotEqual(t, l1.ID, l2.ID)
}

func TestUnlockErrors(t *testing.T) {
	s := New()
	fake := &Lock{ID: "nope", Key: "res"}
	err := s.Unlock(fake)
	require.Error(t, err)

	l1, err := s.Lock("res", "a1", 0)
	require.NoError(t, err)

	mismatched := &Lock{ID: "other", Key: "res"}
	err = s.Unlock(mismatched)
	require.Error(t, err)

	require.NoError(t, s.Unlock(l1))
}

func TestLockExpiryIsSweptLazily(t *testing.T) {
	s := New()
	_, err := s.Lock("res", "a1", 5*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)

	l2, err := s.Lock("res", "a2", 0)
	require.NoError(t, err)
	assert.Equal(t, "a2", l2.Holder)
}

// TestPrepareLockFIFO checks the FIFO waiter guarantee.
func TestPrepareLockFIFO(t *testing.T) {
	s := New()
	held, err := s.Lock("res", "owner", 0)
	require.NoError(t, err)

	h1 := s.PrepareLock("res", "waiter1", 0)
	h2 := s.PrepareLock("res", "waiter2", 0)

	order := make(chan string, 2)
	go func() { order <- h1.Wait().Holder }()
	go func() { order <- h2.Wait().Holder }()

	time.Sleep(10 * time.Millisecond) // both goroutines should be parked

	require.NoError(t, s.Unlock(held))

	first := <-order
	assert.Equal(t, "waiter1", first)

	granted, err := s.Lock("res", "irrelevant-probe", 0)
	// waiter1 must already hold the lock, so a fresh attempt fails until
	// they release it.
	if err == nil {
		require.NoError(t, s.Unlock(granted))
		t.Fatalf("expected res to still be held by waiter1")
	}
}

func TestCleanupExpiredLocksWakesWaiter(t *testing.T) {
	s := New()
	_, err := s.Lock("res", "owner", 1*time.Millisecond)
	require.NoError(t, err)

	h := s.PrepareLock("res", "waiter", 0)

	time.Sleep(10 * time.Millisecond)
	removed := s.CleanupExpiredLocks()
	assert.Equal(t, 1, removed)

	select {
	case l := <-h.result:
		assert.Equal(t, "waiter", l.Holder)
	case <-time.After(time.Second):
		t.Fatal("waiter was never granted the lock")
	}
}

func TestDefaultLockTTLAppliesWhenZero(t *testing.T) {
	s := New(WithDefaultLockTTL(time.Minute))
	l, err := s.Lock("res", "a1", 0)
	require.NoError(t, err)
	require.NotNil(t, l.ExpiresAt)

	explicit, err := s.Lock("other", "a1", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, explicit.ExpiresAt)
	assert.True(t, explicit.ExpiresAt.After(*l.ExpiresAt))
}

func TestStats(t *testing.T) {
	s := New()
	s.Set("a", 1)
	s.Set("b", 2)
	s.Watch("a", func(any, bool) {})
	_, _ = s.Lock("res", "holder", 0)

	stats := s.Stats()
	assert.Equal(t, 2, stats.StateSize)
	assert.Equal(t, 1, stats.WatchersCount)
	assert.Equal(t, 1, stats.TotalWatchers)
	assert.Equal(t, 1, stats.LocksCount)
}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestTypedRoundTrip(t *testing.T) {
	s := New()
	require.NoError(t, SetTyped(s, "p", point{X: 1, Y: 2}))

	got, ok := GetTyped[point](s, "p")
	require.True(t, ok)
	assert.Equal(t, point{X: 1, Y: 2}, got)
}

func TestCompareAndSwapTyped(t *testing.T) {
	s := New()
	require.NoError(t, SetTyped(s, "p", point{X: 1, Y: 1}))

	ok, err := CompareAndSwapTyped(s, "p", point{X: 1, Y: 1}, point{X: 2, Y: 2})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CompareAndSwapTyped(s, "p", point{X: 1, Y: 1}, point{X: 9, Y: 9})
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := GetTyped[point](s, "p")
	assert.Equal(t, point{X: 2, Y: 2}, got)
}
