package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()
	rec := &AgentRecord{Name: "alice", State: StateStarting, CreatedAt: time.Now()}

	require.NoError(t, r.Register(rec))

	got, err := r.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&AgentRecord{Name: "alice", CreatedAt: time.Now()}))

	err := r.Register(&AgentRecord{Name: "alice", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrDuplicateAgent)
}

func TestRegistry_GetUnknownNameFails(t *testing.T) {
	r := New()
	_, err := r.Get("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_RemoveFreesNameForReuse(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&AgentRecord{Name: "alice", CreatedAt: time.Now()}))
	r.Remove("alice")

	_, err := r.Get("alice")
	assert.ErrorIs(t, err, ErrNotFound)

	// releasing an agent frees its name for reuse.
	require.NoError(t, r.Register(&AgentRecord{Name: "alice", CreatedAt: time.Now()}))
}

func TestRegistry_ChannelMembers(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&AgentRecord{Name: "alice", Channels: []string{"general", "eng"}, CreatedAt: time.Now()}))
	require.NoError(t, r.Register(&AgentRecord{Name: "bob", Channels: []string{"general"}, CreatedAt: time.Now()}))
	require.NoError(t, r.Register(&AgentRecord{Name: "carol", Channels: []string{"eng"}, CreatedAt: time.Now()}))

	members := r.ChannelMembers("general")
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)
}

func TestAgentRecord_AppendHistoryIsBounded(t *testing.T) {
	rec := &AgentRecord{Name: "alice", CreatedAt: time.Now()}
	for i := 0; i < messageHistoryCap+10; i++ {
		rec.AppendHistory(MessageHistoryEntry{Direction: "in", Text: "msg"})
	}

	assert.Len(t, rec.History(), messageHistoryCap)
}

func TestAgentRecord_StateTransitions(t *testing.T) {
	rec := &AgentRecord{Name: "alice", State: StateStarting, CreatedAt: time.Now()}
	assert.Equal(t, StateStarting, rec.GetState())

	rec.SetState(StateReady)
	assert.Equal(t, StateReady, rec.GetState())
}

func TestAgentRecord_UptimeUsesReleasedAtWhenSet(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	released := start.Add(30 * time.Second)
	rec := &AgentRecord{Name: "alice", CreatedAt: start, ReleasedAt: &released}

	assert.InDelta(t, 30*time.Second, rec.Uptime(), float64(time.Second))
}
