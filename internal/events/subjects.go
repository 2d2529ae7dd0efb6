package events

// Subject conventions: every event is published on a dot-delimited subject
// so that per-agent consumers (the delivery pipeline's ack scanner, the
// PTY supervisor's own watchers) can subscribe narrowly with NATS-style
// wildcards, while the protocol codec and HTTP mirror subscribe to All to
// mirror every event onto the wire in publish order.

// All matches every subject published on the bus.
const All = ">"

// AgentSubject returns the subject an agent-scoped event of kind is
// published under, e.g. "agent.alice.worker_stream".
func AgentSubject(name string, kind Kind) string {
	return "agent." + name + "." + string(kind)
}

// AgentAll matches every event for a single agent, e.g. "agent.alice.>".
func AgentAll(name string) string {
	return "agent." + name + "." + ">"
}

// BrokerSubject returns the subject a broker-level (non-agent-scoped) event
// of kind is published under, e.g. "broker.acl_denied".
func BrokerSubject(kind Kind) string {
	return "broker." + string(kind)
}
