package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-relay/broker/internal/delivery"
	"github.com/agent-relay/broker/internal/events"
	"github.com/agent-relay/broker/internal/logging"
	"github.com/agent-relay/broker/internal/registry"
)

// fakeInjector satisfies delivery.Injector without a real PTY, so the
// pipeline's injector task can attach to a record in tests.
type fakeInjector struct{}

func (fakeInjector) Ready() bool              { return false }
func (fakeInjector) Idle() bool               { return false }
func (fakeInjector) Write(p []byte) (int, error) { return len(p), nil }
func (fakeInjector) MarkInjectionPending()    {}
func (fakeInjector) MarkInjectionAcked()      {}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	bus, err := events.New("", 100, logging.Default())
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	return &Broker{
		Bus:      bus,
		Registry: registry.New(),
		Pipeline: delivery.New(bus, logging.Default(), time.Millisecond, time.Second),
	}
}

func attachAgent(t *testing.T, b *Broker, name string, channels ...string) *registry.AgentRecord {
	t.Helper()
	rec := &registry.AgentRecord{
		Name:      name,
		CLI:       "claude",
		Channels:  channels,
		State:     registry.StateReady,
		CreatedAt: time.Now(),
	}
	require.NoError(t, b.Registry.Register(rec))
	rec.Deliveries = b.Pipeline.Attach(name, fakeInjector{})
	return rec
}

func TestDecodeSendParams_DefaultsFromAndPriority(t *testing.T) {
	p := decodeSendParams(map[string]interface{}{"to": "alice", "text": "hi"})
	assert.Equal(t, "alice", p.To)
	assert.Equal(t, "hi", p.Text)
	assert.Equal(t, "system", p.From)
	assert.Equal(t, 3, p.Priority)
}

func TestAgentSummary_OmitsScreenLineWithoutSupervisor(t *testing.T) {
	rec := &registry.AgentRecord{Name: "alice", CLI: "claude", State: registry.StateReady, CreatedAt: time.Now()}
	summary := agentSummary(rec)
	assert.Equal(t, "alice", summary["name"])
	_, ok := summary["last_screen_line"]
	assert.False(t, ok)
}

func TestSendMessage_RejectsEmptyTarget(t *testing.T) {
	b := newTestBroker(t)
	_, err := b.SendMessage(sendParams{To: "", Text: "hi"})
	assert.Error(t, err)
}

func TestSendMessage_RejectsUnknownAgent(t *testing.T) {
	b := newTestBroker(t)
	_, err := b.SendMessage(sendParams{To: "ghost", From: "system", Text: "hi", Priority: 3})
	assert.Error(t, err)
}

func TestSendMessage_DirectDeliveryEnqueues(t *testing.T) {
	b := newTestBroker(t)
	rec := attachAgent(t, b, "alice")

	result, err := b.SendMessage(sendParams{To: "alice", From: "bob", Text: "hi", Priority: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, result["targets"])
	assert.Equal(t, 1, rec.Deliveries.Len())
	assert.Len(t, rec.History(), 1)
}

func TestSendMessage_ChannelBroadcastExpandsToMembers(t *testing.T) {
	b := newTestBroker(t)
	attachAgent(t, b, "alice", "general")
	attachAgent(t, b, "bob", "general")
	attachAgent(t, b, "carol", "eng")

	result, err := b.SendMessage(sendParams{To: "#general", From: "system", Text: "standup", Priority: 3})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, result["targets"])
}

func TestSendMessage_RejectsReleasedAgent(t *testing.T) {
	b := newTestBroker(t)
	rec := attachAgent(t, b, "alice")
	rec.SetState(registry.StateReleased)

	_, err := b.SendMessage(sendParams{To: "alice", From: "system", Text: "hi", Priority: 3})
	assert.Error(t, err)
}

func TestStatus_ReportsPendingDeliveryCounts(t *testing.T) {
	b := newTestBroker(t)
	attachAgent(t, b, "alice")
	_, err := b.SendMessage(sendParams{To: "alice", From: "system", Text: "hi", Priority: 3})
	require.NoError(t, err)

	status, err := b.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, status["agent_count"])
	assert.Equal(t, 1, status["pending_delivery_count"])
}

func TestCrashInsights_CountsNonZeroExitsOnly(t *testing.T) {
	b := newTestBroker(t)
	b.Bus.Publish(events.AgentSubject("alice", events.KindAgentExited), events.AgentExited("alice", 0, ""))
	b.Bus.Publish(events.AgentSubject("bob", events.KindAgentExited), events.AgentExited("bob", 1, ""))
	b.Bus.Publish(events.AgentSubject("carol", events.KindAgentExited), events.AgentExited("carol", -1, "SIGKILL"))

	insights, err := b.CrashInsights()
	require.NoError(t, err)
	assert.Equal(t, 2, insights["total_crashes"])
	assert.InDelta(t, 1.0/3.0, insights["health_score"], 0.001)
}

func TestRequestShutdown_ClosesChannelOnce(t *testing.T) {
	b := newTestBroker(t)
	b.shutdownCh = make(chan struct{})

	_, err := b.RequestShutdown()
	require.NoError(t, err)
	_, err = b.RequestShutdown()
	require.NoError(t, err)

	select {
	case <-b.ShutdownRequested():
	default:
		t.Fatal("expected shutdown channel to be closed")
	}
}
