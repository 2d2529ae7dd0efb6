package delivery

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-relay/broker/internal/events"
)

// fakeInjector simulates an idle agent that echoes every write back onto
// the event bus as a worker_stream chunk, so the pipeline's ack-by-echo
// path can be exercised without a real PTY.
type fakeInjector struct {
	mu       sync.Mutex
	name     string
	bus      events.Bus
	ready    bool
	idle     bool
	pending  bool
	writes   [][]byte
}

func newFakeInjector(name string, bus events.Bus) *fakeInjector {
	return &fakeInjector{name: name, bus: bus, ready: true, idle: true}
}

func (f *fakeInjector) Ready() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.ready }
func (f *fakeInjector) Idle() bool  { f.mu.Lock(); defer f.mu.Unlock(); return f.idle && !f.pending }

func (f *fakeInjector) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	f.mu.Unlock()
	f.bus.Publish(events.AgentSubject(f.name, events.KindWorkerStream), events.WorkerStream(f.name, "stdout", string(p)))
	return len(p), nil
}

func (f *fakeInjector) MarkInjectionPending() { f.mu.Lock(); f.pending = true; f.mu.Unlock() }
func (f *fakeInjector) MarkInjectionAcked()   { f.mu.Lock(); f.pending = false; f.mu.Unlock() }

func newTestBus(t *testing.T) events.Bus {
	t.Helper()
	return events.NewMemoryBus(nil, 256)
}

func TestPipeline_EnqueueUnattachedAgentFails(t *testing.T) {
	p := New(newTestBus(t), nil, 10*time.Millisecond, 0)

	_, err := p.Enqueue("ghost", "alice", "hi", "", "", 0, "evt-1")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestPipeline_InjectsAndVerifiesOnIdleAgent(t *testing.T) {
	bus := newTestBus(t)
	p := New(bus, nil, 20*time.Millisecond, time.Second)

	var verified sync.WaitGroup
	verified.Add(1)
	sub, err := bus.Subscribe(events.AgentSubject("worker1", events.KindDeliveryVerified), func(events.Event) {
		verified.Done()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	injector := newFakeInjector("worker1", bus)
	p.Attach("worker1", injector)

	deliveryID, err := p.Enqueue("worker1", "alice", "ping", "", "", 0, "evt-1")
	require.NoError(t, err)
	assert.NotEmpty(t, deliveryID)

	waitOrTimeout(t, &verified, 2*time.Second)

	injector.mu.Lock()
	defer injector.mu.Unlock()
	assert.Len(t, injector.writes, 1)
	assert.Contains(t, string(injector.writes[0]), shortID(deliveryID))
}

func TestPipeline_DetachDropsQueuedDeliveries(t *testing.T) {
	bus := newTestBus(t)
	p := New(bus, nil, time.Second, time.Second)

	var dropped sync.WaitGroup
	dropped.Add(1)
	sub, err := bus.Subscribe(events.AgentSubject("worker2", events.KindDeliveryDropped), func(evt events.Event) {
		assert.Equal(t, "agent_gone", evt.Fields["reason"])
		dropped.Done()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	injector := newFakeInjector("worker2", bus)
	injector.idle = false // never becomes idle, so the delivery stays queued
	q := p.Attach("worker2", injector)

	_, err = p.Enqueue("worker2", "bob", "hold this", "", "", 0, "evt-2")
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	p.Detach("worker2")

	waitOrTimeout(t, &dropped, 2*time.Second)
}

// silentInjector is ready and idle but never echoes anything back, so the
// ack-grace deadline always expires.
type silentInjector struct {
	mu      sync.Mutex
	pending bool
}

func (s *silentInjector) Ready() bool { return true }
func (s *silentInjector) Idle() bool  { s.mu.Lock(); defer s.mu.Unlock(); return !s.pending }
func (s *silentInjector) Write(p []byte) (int, error) { return len(p), nil }
func (s *silentInjector) MarkInjectionPending()       { s.mu.Lock(); s.pending = true; s.mu.Unlock() }
func (s *silentInjector) MarkInjectionAcked()         { s.mu.Lock(); s.pending = false; s.mu.Unlock() }

func TestPipeline_AckTimeoutFailsWithoutEcho(t *testing.T) {
	bus := newTestBus(t)
	p := New(bus, nil, 10*time.Millisecond, 30*time.Millisecond)

	var failed sync.WaitGroup
	failed.Add(1)
	sub, err := bus.Subscribe(events.AgentSubject("worker3", events.KindDeliveryFailed), func(evt events.Event) {
		assert.Equal(t, "ack_timeout", evt.Fields["reason"])
		failed.Done()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	p.Attach("worker3", &silentInjector{})

	_, err = p.Enqueue("worker3", "alice", "ping", "", "", 0, "evt-3")
	require.NoError(t, err)

	waitOrTimeout(t, &failed, 2*time.Second)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for expected event")
	}
}
