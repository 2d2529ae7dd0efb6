// Package events implements the broker's in-process event bus (C2): typed
// BrokerEvent broadcast with a monotonic sequence number, a bounded replay
// ring buffer, and NATS-style wildcard subject matching for internal
// consumers. Grounded on the teacher's internal/events/bus package.
package events

import (
	"context"
	"fmt"
	"time"
)

// Handler receives events delivered to a subscription.
type Handler func(Event)

// Subscription represents an active subscription to the bus.
type Subscription interface {
	Unsubscribe()
	ID() string
	Active() bool
}

// Bus is the broker-wide event broadcast primitive (C2). Every internal
// producer publishes through it; it assigns the monotonic seq and fans out
// to the protocol writer, the optional HTTP/SSE mirror, and any internal
// subscriber.
type Bus interface {
	// Publish assigns a sequence number to evt, records it in the replay
	// ring, and delivers it to every subscription whose subject pattern
	// matches. It returns the event with its assigned Seq.
	Publish(subject string, evt Event) Event

	// Subscribe delivers every matching event to handler, in publish order,
	// on a single per-subscription goroutine.
	Subscribe(subject string, handler Handler) (Subscription, error)

	// QueueSubscribe behaves like Subscribe but load-balances round-robin
	// across all subscribers sharing the same queue name.
	QueueSubscribe(subject, queue string, handler Handler) (Subscription, error)

	// Request publishes evt and waits up to timeout for a single reply
	// published to the ephemeral "_INBOX.<id>" subject.
	Request(ctx context.Context, subject string, evt Event, timeout time.Duration) (Event, error)

	// Recent returns up to n of the most recently published events, oldest
	// first, from the bounded replay ring buffer.
	Recent(n int) []Event

	// Close shuts the bus down, deactivating all subscriptions.
	Close()
}

// ErrClosed is returned by Bus operations attempted after Close.
var ErrClosed = fmt.Errorf("event bus is closed")
