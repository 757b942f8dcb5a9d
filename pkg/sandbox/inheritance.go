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

// Content is the portion of a parent's conversational state a child may
// inherit: messages, tool results, touched files, and retrieved knowledge.
// Each field is an opaque token-costed blob; the sandbox package does not
// interpret their contents, only their approximate token cost.
type Content struct {
	Messages    []string
	ToolResults []string
	Files       []string
	Knowledge   []string
}

// TokenCost estimates the token footprint of c using a simple heuristic:
// len/4 + 1 for each string. Inheritance decisions need rough budgeting, not exact
// tokenizer output.
func (c Content) TokenCost() int {
	total := 0
	for _, parts := range [][]string{c.Messages, c.ToolResults, c.Files, c.Knowledge} {
		for _, s := range parts {
			total += len(s)/4 + 1
		}
	}
	return total
}

// InheritancePolicy are the knobs a caller sets when creating a child
// sandbox's inherited content.
type InheritancePolicy struct {
	InheritMessages    bool
	InheritToolResults bool
	InheritFiles       bool
	InheritKnowledge   bool
	CompressContext    bool
	TargetTokens       int
}

// Summarizer abstractively compresses parent content down toward a token
// budget. It is a pluggable collaborator; the sandbox package only requires
// that compressed-then-inherited content stays within TargetTokens.
type Summarizer interface {
	Summarize(content Content, targetTokens int) (Content, error)
}

// Inherit builds the Content a child sandbox should start with, given the
// parent's full content, the policy, and (if compression is needed) a
// Summarizer. Compression triggers when CompressContext is set or the
// selected content's token cost exceeds TargetTokens.
func Inherit(parent Content, policy InheritancePolicy, summarizer Summarizer) (Content, error) {
	selected := Content{}
	if policy.InheritMessages {
		selected.Messages = parent.Messages
	}
	if policy.InheritToolResults {
		selected.ToolResults = parent.ToolResults
	}
	if policy.InheritFiles {
		selected.Files = parent.Files
	}
	if policy.InheritKnowledge {
		selected.Knowledge = parent.Knowledge
	}

	needsCompression := policy.CompressContext ||
		(policy.TargetTokens > 0 && selected.TokenCost() > policy.TargetTokens)

	if !needsCompression || summarizer == nil {
		return selected, nil
	}

	target := policy.TargetTokens
	if target <= 0 {
		target = selected.TokenCost()
	}
	return summarizer.Summarize(selected, target)
}
