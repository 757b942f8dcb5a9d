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

package checkpoint

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hectorcore/substrate/pkg/coreerrors"
)

// TestMetricPersistenceRoundTrip checks that writing agent metrics to a
// checkpoint sink and reading them back yields field-wise equal data,
// floats compared within 1e-4.
func TestMetricPersistenceRoundTrip(t *testing.T) {
	sinks := map[string]func(t *testing.T) Sink{
		"memory": func(t *testing.T) Sink { return NewMemorySink() },
		"file": func(t *testing.T) Sink {
			sink, err := NewFileSink(filepath.Join(t.TempDir(), "checkpoints"))
			require.NoError(t, err)
			return sink
		},
	}

	for name, makeSink := range sinks {
		t.Run(name, func(t *testing.T) {
			sink := makeSink(t)
			want := &AgentMetrics{
				AgentID:     "agent-1",
				TokensUsed:  1234.5678,
				CallsMade:   42,
				ToolResults: 7,
				Errors:      1,
				Status:      "idle",
				CapturedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			}

			require.NoError(t, sink.Save(want))

			got, err := sink.Load("agent-1")
			require.NoError(t, err)

			assert.Equal(t, want.AgentID, got.AgentID)
			assert.InDelta(t, want.TokensUsed, got.TokensUsed, 1e-4)
			assert.InDelta(t, want.CallsMade, got.CallsMade, 1e-4)
			assert.InDelta(t, want.ToolResults, got.ToolResults, 1e-4)
			assert.InDelta(t, want.Errors, got.Errors, 1e-4)
			assert.Equal(t, want.Status, got.Status)
			assert.True(t, want.CapturedAt.Equal(got.CapturedAt))
		})
	}
}

func TestLoad_MissingAgentIsNotFound(t *testing.T) {
	memory := NewMemorySink()
	_, err := memory.Load("nope")
	require.Error(t, err)
	assert.True(t, coreerrors.IsKind(err, coreerrors.KindNotFound))

	file, err := NewFileSink(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)
	_, err = file.Load("nope")
	require.Error(t, err)
	assert.True(t, coreerrors.IsKind(err, coreerrors.KindNotFound))
}
