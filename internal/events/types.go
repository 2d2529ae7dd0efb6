package events

import "encoding/json"

// Kind discriminates the tagged BrokerEvent union.
type Kind string

const (
	KindAgentSpawned     Kind = "agent_spawned"
	KindAgentReleased    Kind = "agent_released"
	KindAgentExited      Kind = "agent_exited"
	KindWorkerStream     Kind = "worker_stream"
	KindWorkerReady      Kind = "worker_ready"
	KindWorkerError      Kind = "worker_error"
	KindDeliveryQueued   Kind = "delivery_queued"
	KindDeliveryInjected Kind = "delivery_injected"
	KindDeliveryAck      Kind = "delivery_ack"
	KindDeliveryVerified Kind = "delivery_verified"
	KindDeliveryFailed   Kind = "delivery_failed"
	KindDeliveryDropped  Kind = "delivery_dropped"
	KindRelayInbound     Kind = "relay_inbound"
	KindACLDenied        Kind = "acl_denied"
	KindContinuitySaved  Kind = "continuity_saved"
)

// Event is the wire shape `{"kind":..., "seq":..., ...fields}`.
// Seq is assigned by the Bus at publish time, never by the producer.
type Event struct {
	Kind   Kind
	Seq    uint64
	Fields map[string]interface{}
}

// MarshalJSON flattens Fields alongside kind/seq, matching the wire shape exactly.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(e.Fields)+2)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["kind"] = string(e.Kind)
	m["seq"] = e.Seq
	return json.Marshal(m)
}

func newEvent(kind Kind, fields map[string]interface{}) Event {
	return Event{Kind: kind, Fields: fields}
}

func AgentSpawned(name, runtime string) Event {
	return newEvent(KindAgentSpawned, map[string]interface{}{"name": name, "runtime": runtime})
}

func AgentReleased(name, reason string) Event {
	return newEvent(KindAgentReleased, map[string]interface{}{"name": name, "reason": reason})
}

func AgentExited(name string, code int, signal string) Event {
	f := map[string]interface{}{"name": name, "code": code}
	if signal != "" {
		f["signal"] = signal
	}
	return newEvent(KindAgentExited, f)
}

func WorkerStream(name, stream, chunk string) Event {
	return newEvent(KindWorkerStream, map[string]interface{}{"name": name, "stream": stream, "chunk": chunk})
}

func WorkerReady(name string) Event {
	return newEvent(KindWorkerReady, map[string]interface{}{"name": name})
}

func WorkerError(name, message string) Event {
	return newEvent(KindWorkerError, map[string]interface{}{"name": name, "message": message})
}

func DeliveryQueued(name, deliveryID, eventID string) Event {
	return newEvent(KindDeliveryQueued, map[string]interface{}{"name": name, "delivery_id": deliveryID, "event_id": eventID})
}

func DeliveryInjected(name, deliveryID, eventID string) Event {
	return newEvent(KindDeliveryInjected, map[string]interface{}{"name": name, "delivery_id": deliveryID, "event_id": eventID})
}

func DeliveryAck(name, deliveryID, eventID string) Event {
	return newEvent(KindDeliveryAck, map[string]interface{}{"name": name, "delivery_id": deliveryID, "event_id": eventID})
}

func DeliveryVerified(name, deliveryID, eventID string) Event {
	return newEvent(KindDeliveryVerified, map[string]interface{}{"name": name, "delivery_id": deliveryID, "event_id": eventID})
}

func DeliveryFailed(name, deliveryID, eventID, reason string) Event {
	return newEvent(KindDeliveryFailed, map[string]interface{}{"name": name, "delivery_id": deliveryID, "event_id": eventID, "reason": reason})
}

func DeliveryDropped(name, deliveryID, eventID, reason string) Event {
	return newEvent(KindDeliveryDropped, map[string]interface{}{"name": name, "delivery_id": deliveryID, "event_id": eventID, "reason": reason})
}

func RelayInbound(from, target, threadID, body string) Event {
	f := map[string]interface{}{"from": from, "target": target, "body": body}
	if threadID != "" {
		f["thread_id"] = threadID
	}
	return newEvent(KindRelayInbound, f)
}

func ACLDenied(subject, action, reason string) Event {
	return newEvent(KindACLDenied, map[string]interface{}{"subject": subject, "action": action, "reason": reason})
}

func ContinuitySaved(name string) Event {
	return newEvent(KindContinuitySaved, map[string]interface{}{"name": name})
}
