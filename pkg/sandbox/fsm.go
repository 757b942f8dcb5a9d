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

package sandbox

import "github.com/hectorcore/substrate/pkg/coreerrors"

// CanTransition reports whether the FSM permits moving from s to to.
// Self-transitions are always permitted except out of Terminated, which is
// absorbing: no transition leaves it, including to itself.
func CanTransition(from, to State) bool {
	if from == StateTerminated {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case StateActive:
		return to == StateSuspended || to == StateTerminated
	case StateSuspended:
		return to == StateActive || to == StateTerminated
	default:
		return false
	}
}

// Suspend moves the sandbox to Suspended. A no-op if already Suspended;
// fails if Terminated.
func (s *Sandbox) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(StateSuspended)
}

// Resume moves the sandbox back to Active from Suspended.
func (s *Sandbox) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(StateActive)
}

// Terminate moves the sandbox to the absorbing Terminated state.
func (s *Sandbox) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(StateTerminated)
}

// transitionLocked performs the edge, returning an error if disallowed.
// Caller must hold s.mu.
func (s *Sandbox) transitionLocked(to State) error {
	if !CanTransition(s.state, to) {
		return coreerrors.New(coreerrors.KindValidation, "invalid sandbox transition: "+string(s.state)+" -> "+string(to))
	}
	s.state = to
	return nil
}
