package events

import "github.com/agent-relay/broker/internal/logging"

// New returns the default in-memory Bus, or a NATSBus when natsURL is
// non-empty (RELAY_NATS_URL), letting a fleet of brokers share one stream.
func New(natsURL string, ringCapacity int, log *logging.Logger) (Bus, error) {
	if natsURL != "" {
		return NewNATSBus(natsURL, ringCapacity, log)
	}
	return NewMemoryBus(log, ringCapacity), nil
}
