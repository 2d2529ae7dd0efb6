package events

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agent-relay/broker/internal/logging"
)

const subscriberQueueDepth = 256

// MemoryBus is the default in-process Bus implementation.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*subscription // keyed by raw subject pattern
	queues        map[string]*queueGroup      // keyed by "<queue>:<pattern>"
	ring          []Event
	ringCap       int
	seq           uint64
	closed        bool
	log           *logging.Logger
}

type subscription struct {
	bus     *MemoryBus
	id      string
	subject string
	pattern *regexp.Regexp
	queue   string
	ch      chan Event
	active  atomic.Bool
}

type queueGroup struct {
	mu          sync.Mutex
	subscribers []*subscription
	next        int
}

// NewMemoryBus creates an in-process Bus with a replay ring of the given capacity.
func NewMemoryBus(log *logging.Logger, ringCapacity int) *MemoryBus {
	if ringCapacity <= 0 {
		ringCapacity = 1000
	}
	if log == nil {
		log = logging.Default()
	}
	return &MemoryBus{
		subscriptions: make(map[string][]*subscription),
		queues:        make(map[string]*queueGroup),
		ringCap:       ringCapacity,
		log:           log.WithFields(zap.String("component", "event-bus")),
	}
}

func (b *MemoryBus) Publish(subject string, evt Event) Event {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return evt
	}
	b.seq++
	evt.Seq = b.seq
	b.ring = append(b.ring, evt)
	if len(b.ring) > b.ringCap {
		b.ring = b.ring[len(b.ring)-b.ringCap:]
	}

	deliveredQueues := make(map[string]bool)
	var targets []*subscription
	for pattern, subs := range b.subscriptions {
		for _, sub := range subs {
			if !sub.active.Load() || !matches(subject, pattern, sub.pattern) {
				continue
			}
			if sub.queue != "" {
				key := sub.queue + ":" + pattern
				if deliveredQueues[key] {
					continue
				}
				deliveredQueues[key] = true
				if t := b.pickQueueTarget(key); t != nil {
					targets = append(targets, t)
				}
				continue
			}
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		b.deliver(sub, evt)
	}
	return evt
}

// deliver enqueues evt onto the subscriber's own queue, dropping the oldest
// queued event (and synthesizing a subscriber_overflow worker_error) when
// the subscriber can't keep up. This is the bus's documented backpressure
// policy: lossless for subscribers that keep up, lossy at the tail otherwise.
func (b *MemoryBus) deliver(sub *subscription, evt Event) {
	select {
	case sub.ch <- evt:
		return
	default:
	}
	// Queue full: drop the oldest, then enqueue.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- evt:
	default:
	}
	go func() {
		b.log.Warn("subscriber queue overflow, dropped oldest event")
	}()
	if evt.Kind == KindWorkerError && evt.Fields["message"] == "subscriber_overflow" {
		return // an overflow report never triggers another one
	}
	go b.Publish(BrokerSubject(KindWorkerError), WorkerError("<broker>", "subscriber_overflow"))
}

func (b *MemoryBus) pickQueueTarget(key string) *subscription {
	qg, ok := b.queues[key]
	if !ok {
		return nil
	}
	qg.mu.Lock()
	defer qg.mu.Unlock()
	n := len(qg.subscribers)
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		idx := (qg.next + i) % n
		if qg.subscribers[idx].active.Load() {
			qg.next = (idx + 1) % n
			return qg.subscribers[idx]
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	return b.subscribe(subject, "", handler)
}

func (b *MemoryBus) QueueSubscribe(subject, queue string, handler Handler) (Subscription, error) {
	return b.subscribe(subject, queue, handler)
}

func (b *MemoryBus) subscribe(subject, queue string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &subscription{
		bus:     b,
		id:      uuid.NewString(),
		subject: subject,
		pattern: compilePattern(subject),
		queue:   queue,
		ch:      make(chan Event, subscriberQueueDepth),
	}
	sub.active.Store(true)
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)
	if queue != "" {
		key := queue + ":" + subject
		qg, ok := b.queues[key]
		if !ok {
			qg = &queueGroup{}
			b.queues[key] = qg
		}
		qg.subscribers = append(qg.subscribers, sub)
	}
	b.mu.Unlock()

	go func() {
		for evt := range sub.ch {
			if !sub.active.Load() {
				return
			}
			handler(evt)
		}
	}()

	return sub, nil
}

func (s *subscription) Unsubscribe() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs, ok := s.bus.subscriptions[s.subject]; ok {
		for i, sub := range subs {
			if sub == s {
				s.bus.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	if s.queue != "" {
		key := s.queue + ":" + s.subject
		if qg, ok := s.bus.queues[key]; ok {
			qg.mu.Lock()
			for i, sub := range qg.subscribers {
				if sub == s {
					qg.subscribers = append(qg.subscribers[:i], qg.subscribers[i+1:]...)
					break
				}
			}
			qg.mu.Unlock()
		}
	}
	close(s.ch)
}

func (s *subscription) ID() string     { return s.id }
func (s *subscription) Active() bool    { return s.active.Load() }

func (b *MemoryBus) Request(ctx context.Context, subject string, evt Event, timeout time.Duration) (Event, error) {
	replySubject := "_INBOX." + uuid.NewString()
	respCh := make(chan Event, 1)

	sub, err := b.Subscribe(replySubject, func(e Event) { respCh <- e })
	if err != nil {
		return Event{}, err
	}
	defer sub.Unsubscribe()

	if evt.Fields == nil {
		evt.Fields = map[string]interface{}{}
	}
	evt.Fields["_reply"] = replySubject
	b.Publish(subject, evt)

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-timeoutCtx.Done():
		return Event{}, timeoutCtx.Err()
	}
}

func (b *MemoryBus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.ring) {
		n = len(b.ring)
	}
	out := make([]Event, n)
	copy(out, b.ring[len(b.ring)-n:])
	return out
}

func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			if sub.active.CompareAndSwap(true, false) {
				close(sub.ch)
			}
		}
	}
	b.subscriptions = make(map[string][]*subscription)
	b.queues = make(map[string]*queueGroup)
}

// matches implements NATS-style wildcard matching: "*" matches exactly one
// dot-delimited token, ">" matches one or more trailing tokens.
func matches(subject, pattern string, compiled *regexp.Regexp) bool {
	if !strings.ContainsAny(pattern, "*>") {
		return subject == pattern
	}
	if compiled == nil {
		return false
	}
	return compiled.MatchString(subject)
}

// compilePattern builds a per-token regex from a dot-delimited NATS-style
// subject pattern, so that "*" and ">" are recognized only as whole tokens
// (never as substrings of a literal token containing those bytes).
func compilePattern(pattern string) *regexp.Regexp {
	if !strings.ContainsAny(pattern, "*>") {
		return nil
	}
	tokens := strings.Split(pattern, ".")
	parts := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		switch tok {
		case "*":
			parts = append(parts, `[^.]+`)
		case ">":
			parts = append(parts, `.+`)
			if i != len(tokens)-1 {
				// ">" only has meaning as the final token; treat a
				// misplaced one literally rather than silently matching.
				parts[len(parts)-1] = regexp.QuoteMeta(tok)
			}
		default:
			parts = append(parts, regexp.QuoteMeta(tok))
		}
	}
	escaped := strings.Join(parts, `\.`)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return re
}
