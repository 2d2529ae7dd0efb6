// Package inbound implements the Inbound Pull task (C7): a background
// loop that periodically pulls messages addressed to local agents from the
// remote Relaycast service and feeds them through the same delivery
// pipeline as local sends. Grounded on the teacher's instance.Manager
// background-goroutine shape (one long-lived loop per concern, started
// from the owning manager's constructor) and client.Client's http.Client
// usage for the remote calls themselves.
package inbound

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agent-relay/broker/internal/delivery"
	"github.com/agent-relay/broker/internal/events"
	"github.com/agent-relay/broker/internal/logging"
	"github.com/agent-relay/broker/internal/relaycast"
	"github.com/agent-relay/broker/internal/registry"
)

// Puller periodically pulls inbound messages and enqueues them as
// deliveries for any target that is a live local agent. Errors never
// crash the broker: transient pull failures are reported as worker_error
// events and retried with backoff.
type Puller struct {
	client     *relaycast.Client
	pipeline   *delivery.Pipeline
	registry   *registry.Registry
	bus        events.Bus
	log        *logging.Logger
	interval   time.Duration
	batchSize  int
	backoff    time.Duration
	maxBackoff time.Duration
}

// Config holds the poll loop's tunable knobs: interval, batch size, and
// error backoff are all configuration, not hardcoded constants.
type Config struct {
	Interval   time.Duration
	BatchSize  int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// New creates a Puller. client may be configured with an empty base URL,
// in which case Run returns at its first tick, when the client reports
// ErrNoBaseURL without making a request (inbound pull is opt-in: "when
// credentials allow").
func New(client *relaycast.Client, pipeline *delivery.Pipeline, reg *registry.Registry, bus events.Bus, log *logging.Logger, cfg Config) *Puller {
	if log == nil {
		log = logging.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	return &Puller{
		client:     client,
		pipeline:   pipeline,
		registry:   reg,
		bus:        bus,
		log:        log.WithFields(),
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
	}
}

// Run blocks until ctx is cancelled (or the client has no base URL),
// polling on Config.Interval with exponential backoff on consecutive errors.
func (p *Puller) Run(ctx context.Context) {
	currentBackoff := p.backoff
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		msgs, err := p.client.PullInbound(ctx, p.batchSize)
		if err == relaycast.ErrNoBaseURL {
			return // inbound pull not configured; this task has nothing to do.
		}
		if err != nil {
			p.log.WithError(err).Warn("inbound pull failed, backing off")
			p.bus.Publish(events.BrokerSubject(events.KindWorkerError), events.WorkerError("<broker>", "inbound pull failed: "+err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(currentBackoff):
			}
			currentBackoff *= 2
			if currentBackoff > p.maxBackoff {
				currentBackoff = p.maxBackoff
			}
			continue
		}
		currentBackoff = p.backoff

		for _, m := range msgs {
			p.deliverOne(m)
		}
	}
}

func (p *Puller) deliverOne(m relaycast.InboundMessage) {
	if _, err := p.registry.Get(m.Target); err != nil {
		return // target not a live local agent; silently drop per spec's "local agents" scoping.
	}

	priority := m.Priority
	if priority == 0 {
		priority = 3
	}
	eventID := uuid.NewString()

	if _, err := p.pipeline.Enqueue(m.Target, m.From, m.Text, m.ThreadID, m.Channel, priority, eventID); err != nil {
		p.log.WithAgentName(m.Target).WithError(err).Warn("failed to enqueue pulled inbound message")
		return
	}

	p.bus.Publish(events.BrokerSubject(events.KindRelayInbound), events.RelayInbound(m.From, m.Target, m.ThreadID, m.Text))
}
