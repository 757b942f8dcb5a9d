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

package coordinator

import (
	"math/rand"
)

// Strategy selects how SelectAgent picks among eligible agents.
type Strategy string

const (
	StrategyLeastBusy       Strategy = "least_busy"
	StrategyRoundRobin      Strategy = "round_robin"
	StrategyRandom          Strategy = "random"
	StrategyCapabilityMatch Strategy = "capability_match"
)

// Criteria parameterizes agent selection.
type Criteria struct {
	RequiredType         string
	RequiredCapabilities []string
	Strategy             Strategy
	PreferredAgent       string
}

// isEligible reports whether agent satisfies criteria's type/capability
// constraints in addition to its own availability.
func isEligible(agent *Capabilities, criteria Criteria) bool {
	if !agent.eligible() {
		return false
	}
	if criteria.RequiredType != "" && agent.Type != criteria.RequiredType {
		return false
	}
	for _, cap := range criteria.RequiredCapabilities {
		if !agent.HasCapability(cap) {
			return false
		}
	}
	return true
}

// selectAgent runs criteria.Strategy over the ordered list of registered
// agents (registration order preserved), returning the chosen agent or
// ErrNoSuitableAgent.
func (c *Coordinator) selectAgent(ordered []*Capabilities, criteria Criteria) (*Capabilities, error) {
	eligible := make([]*Capabilities, 0, len(ordered))
	for _, a := range ordered {
		if isEligible(a, criteria) {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoSuitableAgent
	}

	if criteria.PreferredAgent != "" {
		for _, a := range eligible {
			if a.ID == criteria.PreferredAgent {
				return a, nil
			}
		}
	}

	switch criteria.Strategy {
	case StrategyRoundRobin:
		return c.selectRoundRobin(eligible), nil
	case StrategyRandom:
		return eligible[rand.Intn(len(eligible))], nil
	case StrategyCapabilityMatch:
		return selectCapabilityMatch(eligible, criteria.RequiredCapabilities), nil
	case StrategyLeastBusy:
		fallthrough
	default:
		return selectLeastBusy(eligible), nil
	}
}

// selectLeastBusy returns the minimum current_load agent, tie-broken by
// registration order.
func selectLeastBusy(eligible []*Capabilities) *Capabilities {
	best := eligible[0]
	bestLoad := best.CurrentLoad()
	for _, a := range eligible[1:] {
		load := a.CurrentLoad()
		if load < bestLoad || (load == bestLoad && a.registeredSeq < best.registeredSeq) {
			best = a
			bestLoad = load
		}
	}
	return best
}

// selectCapabilityMatch scores by |agent.capabilities ∩ required|, highest
// wins, tie-broken by least-busy.
func selectCapabilityMatch(eligible []*Capabilities, required []string) *Capabilities {
	bestScore := -1
	var candidates []*Capabilities
	for _, a := range eligible {
		score := 0
		for _, cap := range required {
			if a.HasCapability(cap) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			candidates = []*Capabilities{a}
		} else if score == bestScore {
			candidates = append(candidates, a)
		}
	}
	return selectLeastBusy(candidates)
}

// selectRoundRobin advances the coordinator's cursor and returns the next
// eligible agent in registration order. The cursor is a single counter
// taken modulo the length of the current eligible list, so when the
// eligible set changes between calls the rotation position shifts with it.
func (c *Coordinator) selectRoundRobin(eligible []*Capabilities) *Capabilities {
	c.rrMu.Lock()
	defer c.rrMu.Unlock()

	idx := c.rrCursor % len(eligible)
	c.rrCursor++
	return eligible[idx]
}
