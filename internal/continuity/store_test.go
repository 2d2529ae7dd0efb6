package continuity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-relay/broker/internal/registry"
)

func TestStore_ReadMissingSnapshotReturnsNilNil(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	snap, err := s.Read("ghost")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

// TestStore_WriteThenReadRoundTrips covers the ContinuitySnapshot schema
// from §3.1 surviving a write/read cycle, including the bounded message
// history.
func TestStore_WriteThenReadRoundTrips(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	rec := &registry.AgentRecord{
		Name:      "E",
		CLI:       "cat",
		SpawnSpec: registry.SpawnSpec{Task: "first"},
		CreatedAt: time.Now().Add(-time.Minute),
	}
	rec.AppendHistory(registry.MessageHistoryEntry{Direction: "out", From: "E", Text: "done with first"})

	require.NoError(t, s.Write(rec, "wrapped up the first task"))

	snap, err := s.Read("E")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "E", snap.AgentName)
	assert.Equal(t, "cat", snap.CLI)
	assert.Equal(t, "first", snap.InitialTask)
	assert.Equal(t, "wrapped up the first task", snap.Summary)
	require.Len(t, snap.MessageHistory, 1)
	assert.Equal(t, "done with first", snap.MessageHistory[0].Text)
}

// TestStore_WriteOverwritesPriorSnapshot covers "create-or-overwrite; later
// releases of an agent with the same name overwrite the earlier snapshot."
func TestStore_WriteOverwritesPriorSnapshot(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	rec := &registry.AgentRecord{Name: "E", CLI: "cat", SpawnSpec: registry.SpawnSpec{Task: "first"}, CreatedAt: time.Now()}
	require.NoError(t, s.Write(rec, "summary one"))

	rec.SpawnSpec.Task = "second"
	require.NoError(t, s.Write(rec, "summary two"))

	snap, err := s.Read("E")
	require.NoError(t, err)
	assert.Equal(t, "second", snap.InitialTask)
	assert.Equal(t, "summary two", snap.Summary)
}

// TestPreamble_IncludesInitialTaskAndSummary covers property 8 / scenario
// S6: the composed preamble text must contain the prior agent's
// initial_task so a later spawn with continueFrom delivers it as the new
// agent's first message.
func TestPreamble_IncludesInitialTaskAndSummary(t *testing.T) {
	snap := &Snapshot{AgentName: "E", InitialTask: "first", Summary: "wrapped up the first task"}

	preamble := Preamble(snap)

	assert.Contains(t, preamble, "first")
	assert.Contains(t, preamble, "wrapped up the first task")
}

// TestPreamble_NoSummaryStillIncludesInitialTask covers the case where an
// agent is released before any outbound message exists to summarize.
func TestPreamble_NoSummaryStillIncludesInitialTask(t *testing.T) {
	snap := &Snapshot{AgentName: "E", InitialTask: "first"}

	preamble := Preamble(snap)

	assert.Contains(t, preamble, "first")
}
