package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agent-relay/broker/internal/logging"
)

// NATSBus is an alternate Bus backend used when RELAY_NATS_URL is set,
// letting a fleet of brokers share one event stream instead of each keeping
// an isolated in-memory bus. It implements the same Bus interface as
// MemoryBus; callers never need to know which one they got.
type NATSBus struct {
	conn    *nats.Conn
	ring    *ringBuffer
	log     *logging.Logger
	subject string // subject prefix events are published under
}

// NewNATSBus connects to url and returns a Bus backed by it.
func NewNATSBus(url string, ringCapacity int, log *logging.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url, nats.Name("agent-relay-broker"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if ringCapacity <= 0 {
		ringCapacity = 1000
	}
	if log == nil {
		log = logging.Default()
	}
	return &NATSBus{conn: conn, ring: newRingBuffer(ringCapacity), log: log}, nil
}

func (b *NATSBus) Publish(subject string, evt Event) Event {
	evt.Seq = b.ring.nextSeq()
	data, err := json.Marshal(evt)
	if err != nil {
		b.log.Warn("failed to marshal event for nats publish")
		return evt
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.log.Warn("failed to publish event to nats")
	}
	b.ring.append(evt)
	return evt
}

func (b *NATSBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var evt Event
		var raw map[string]interface{}
		if err := json.Unmarshal(msg.Data, &raw); err == nil {
			evt = decodeEvent(raw)
		}
		handler(evt)
	})
	if err != nil {
		return nil, err
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) QueueSubscribe(subject, queue string, handler Handler) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		var raw map[string]interface{}
		if err := json.Unmarshal(msg.Data, &raw); err == nil {
			handler(decodeEvent(raw))
		}
	})
	if err != nil {
		return nil, err
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) Request(ctx context.Context, subject string, evt Event, timeout time.Duration) (Event, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return Event{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msg, err := b.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return Event{}, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		return Event{}, err
	}
	return decodeEvent(raw), nil
}

func (b *NATSBus) Recent(n int) []Event { return b.ring.recent(n) }

func (b *NATSBus) Close() { b.conn.Close() }

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() { _ = s.sub.Unsubscribe() }
func (s *natsSubscription) ID() string   { return s.sub.Subject }
func (s *natsSubscription) Active() bool { return s.sub.IsValid() }

func decodeEvent(raw map[string]interface{}) Event {
	kind, _ := raw["kind"].(string)
	var seq uint64
	if f, ok := raw["seq"].(float64); ok {
		seq = uint64(f)
	}
	delete(raw, "kind")
	delete(raw, "seq")
	return Event{Kind: Kind(kind), Seq: seq, Fields: raw}
}
