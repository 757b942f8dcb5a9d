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

package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAllowedDefaultsToAllowWithNoStore(t *testing.T) {
	m := NewManager(nil)
	result := m.IsAllowed("fs_read_file", nil, nil)
	assert.True(t, result.Allowed)
}

func TestIsAllowedFirstMatchingRuleWins(t *testing.T) {
	store := NewStaticStore([]Rule{
		{Pattern: "fs_write_*", Effect: EffectDeny, Reason: "writes disabled"},
		{Pattern: "fs_*", Effect: EffectAllow},
	})
	m := NewManager(store)

	denied := m.IsAllowed("fs_write_file", nil, nil)
	assert.False(t, denied.Allowed)
	assert.Equal(t, "writes disabled", denied.Reason)

	allowed := m.IsAllowed("fs_read_file", nil, nil)
	assert.True(t, allowed.Allowed)
}

func TestIsAllowedUnmatchedUsesDefaultAllow(t *testing.T) {
	store := NewStaticStore([]Rule{{Pattern: "fs_write_*", Effect: EffectDeny}})
	m := NewManager(store)
	m.DefaultAllow = false

	result := m.IsAllowed("shell_exec", nil, nil)
	assert.False(t, result.Allowed)
}

func TestIsAllowedConditionGatesRuleByWorkingDirectory(t *testing.T) {
	store := NewStaticStore([]Rule{
		{
			Pattern: "fs_*",
			Effect:  EffectDeny,
			Reason:  "outside project root",
			Conditions: []Condition{
				{Field: "working_directory", Operator: OpNotContains, Value: "/project"},
			},
		},
	})
	m := NewManager(store)

	inside := m.IsAllowed("fs_read_file", nil, map[string]any{"working_directory": "/home/user/project"})
	assert.True(t, inside.Allowed, "condition should not match, so the deny rule should not apply")

	outside := m.IsAllowed("fs_read_file", nil, map[string]any{"working_directory": "/etc"})
	assert.False(t, outside.Allowed)
	assert.Equal(t, "outside project root", outside.Reason)
}

func TestIsAllowedConditionOnNestedMetadataField(t *testing.T) {
	store := NewStaticStore([]Rule{
		{
			Pattern: "shell_exec",
			Effect:  EffectAllow,
			Conditions: []Condition{
				{Field: "metadata.role", Operator: OpEquals, Value: "admin"},
			},
		},
	})
	m := NewManager(store)
	m.DefaultAllow = false

	admin := m.IsAllowed("shell_exec", nil, map[string]any{"metadata": map[string]any{"role": "admin"}})
	assert.True(t, admin.Allowed)

	guest := m.IsAllowed("shell_exec", nil, map[string]any{"metadata": map[string]any{"role": "guest"}})
	assert.False(t, guest.Allowed, "no rule matches for a non-admin role, so DefaultAllow=false applies")
}

func TestIsAllowedCustomConditionValidator(t *testing.T) {
	store := NewStaticStore([]Rule{
		{
			Pattern: "shell_exec",
			Effect:  EffectDeny,
			Reason:  "session blocked",
			Conditions: []Condition{
				{Operator: OpCustom, Validator: func(ctx map[string]any) bool {
					return ctx["session_id"] == "blocked-session"
				}},
			},
		},
	})
	m := NewManager(store)

	blocked := m.IsAllowed("shell_exec", nil, map[string]any{"session_id": "blocked-session"})
	assert.False(t, blocked.Allowed)

	ok := m.IsAllowed("shell_exec", nil, map[string]any{"session_id": "other"})
	assert.True(t, ok.Allowed)
}

func TestIsAllowedParameterRestrictionWhitelist(t *testing.T) {
	store := NewStaticStore([]Rule{
		{
			Pattern: "shell_exec",
			Effect:  EffectAllow,
			Restrictions: []ParameterRestriction{
				{Parameter: "command", Type: RestrictionWhitelist, Values: []any{"ls", "cat"}, Required: true},
			},
		},
	})
	m := NewManager(store)

	allowed := m.IsAllowed("shell_exec", map[string]any{"command": "ls"}, nil)
	assert.True(t, allowed.Allowed)
	assert.Empty(t, allowed.Violations)

	denied := m.IsAllowed("shell_exec", map[string]any{"command": "rm"}, nil)
	assert.False(t, denied.Allowed)
	require.Len(t, denied.Violations, 1)
	assert.Contains(t, denied.Violations[0], "command")

	missing := m.IsAllowed("shell_exec", map[string]any{}, nil)
	assert.False(t, missing.Allowed)
	require.Len(t, missing.Violations, 1)
	assert.Contains(t, missing.Violations[0], "required")
}

func TestIsAllowedParameterRestrictionRangeAndPattern(t *testing.T) {
	store := NewStaticStore([]Rule{
		{
			Pattern: "fs_write",
			Effect:  EffectAllow,
			Restrictions: []ParameterRestriction{
				{Parameter: "path", Type: RestrictionPattern, Pattern: `^/home/\w+/.*$`},
				{Parameter: "retries", Type: RestrictionRange, Min: floatPtr(0), Max: floatPtr(3)},
			},
		},
	})
	m := NewManager(store)

	good := m.IsAllowed("fs_write", map[string]any{"path": "/home/user/file.txt", "retries": float64(1)}, nil)
	assert.True(t, good.Allowed)

	badPath := m.IsAllowed("fs_write", map[string]any{"path": "/etc/passwd", "retries": float64(1)}, nil)
	assert.False(t, badPath.Allowed)

	badRange := m.IsAllowed("fs_write", map[string]any{"path": "/home/user/file.txt", "retries": float64(9)}, nil)
	assert.False(t, badRange.Allowed)
}

func TestCheckParameterRestrictionsCollectsAllViolations(t *testing.T) {
	restrictions := []ParameterRestriction{
		{Parameter: "command", Type: RestrictionWhitelist, Values: []any{"ls"}},
		{Parameter: "path", Type: RestrictionPattern, Pattern: `^/home/.*$`},
	}
	params := map[string]any{"command": "rm", "path": "/etc/passwd"}

	violations := checkParameterRestrictions(restrictions, params)
	assert.Len(t, violations, 2)
}

func floatPtr(f float64) *float64 { return &f }
