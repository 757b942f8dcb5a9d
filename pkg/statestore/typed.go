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

import "encoding/json"

// SetTyped serializes value through JSON and stores the resulting
// structured representation, so readers (possibly of a different type) see
// a plain map/slice/scalar rather than a Go struct pointer.
func SetTyped[T any](s *Store, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var structured any
	if err := json.Unmarshal(raw, &structured); err != nil {
		return err
	}
	s.Set(key, structured)
	return nil
}

// GetTyped retrieves the value at key and decodes it into T.
func GetTyped[T any](s *Store, key string) (T, bool) {
	var zero T
	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false
	}
	return out, true
}

// CompareAndSwapTyped behaves like Store.CompareAndSwap but compares the
// current value against expected via their JSON encodings, so structurally
// equal values of a typed representation compare equal even when they are
// distinct Go values.
//
// When encoding the current value fails, that's treated as "not equal" and
// CompareAndSwapTyped returns false rather than panicking.
func CompareAndSwapTyped[T any](s *Store, key string, expected, newValue T) (bool, error) {
	expectedRaw, err := json.Marshal(expected)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	current, ok := s.state[key]
	matches := false
	if ok {
		currentRaw, merr := json.Marshal(current)
		if merr == nil {
			matches = string(currentRaw) == string(expectedRaw)
		}
		// merr != nil: treat as "not equal", as documented above.
	}
	if !matches {
		s.mu.Unlock()
		return false, nil
	}

	newRaw, err := json.Marshal(newValue)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	var structured any
	if err := json.Unmarshal(newRaw, &structured); err != nil {
		s.mu.Unlock()
		return false, err
	}

	s.state[key] = structured
	watchersSnapshot := append([]watcherEntry(nil), s.watchers[key]...)
	s.mu.Unlock()

	notifyWatchers(watchersSnapshot, structured, true)
	s.events.Publish(Event{Kind: EventChanged, Key: key, Value: structured, OldValue: current})
	return true, nil
}
