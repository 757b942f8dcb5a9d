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

package scheduler

import (
	"github.com/hectorcore/substrate/pkg/config"
	"github.com/hectorcore/substrate/pkg/sandbox"
)

// RestrictionsFromConfig adapts the recognized sandbox configuration
// surface (pkg/config) into sandbox.Restrictions, turning the config's
// allow/deny name lists into the set form the gate checks.
func RestrictionsFromConfig(c config.SandboxRestrictionsConfig) sandbox.Restrictions {
	r := sandbox.Restrictions{
		MaxTokens:      c.MaxTokens,
		MaxFiles:       c.MaxFiles,
		MaxToolResults: c.MaxToolResults,
	}
	if len(c.AllowedTools) > 0 {
		r.AllowedTools = toSet(c.AllowedTools)
	}
	if len(c.DeniedTools) > 0 {
		r.DeniedTools = toSet(c.DeniedTools)
	}
	return r
}
