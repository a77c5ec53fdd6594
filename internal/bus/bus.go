// Package bus provides the typed publish/subscribe event bus that connects
// the execution engine, orchestrator and VCS engine to their consumers
// (console renderer, file logger, run history).
//
// Emissions are synchronous: every subscriber runs to completion before
// Publish returns, which preserves per-topic ordering. Subscribers must not
// block the producer for unbounded time; heavy consumers are expected to
// hand off to their own queue.
package bus

import (
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Handler is a function that receives a published event.
type Handler func(Event)

type subscription struct {
	id      uint64
	topic   Topic
	handler Handler
}

// wildcard receives every event regardless of topic.
const wildcard Topic = "*"

// Bus is a synchronous multi-producer multi-consumer event bus.
// Subscribe, Unsubscribe and Publish are safe for concurrent use.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[Topic][]subscription
	nextID        atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subscriptions: make(map[Topic][]subscription),
	}
}

// Subscribe registers a handler for a single topic and returns a
// subscription id for later removal.
func (b *Bus) Subscribe(topic Topic, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID.Add(1)
	b.subscriptions[topic] = append(b.subscriptions[topic], subscription{
		id:      id,
		topic:   topic,
		handler: handler,
	})
	return id
}

// SubscribeAll registers a handler for every topic.
func (b *Bus) SubscribeAll(handler Handler) uint64 {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription by id. Returns true if it was found.
func (b *Bus) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				b.subscriptions[topic] = append(subs[:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish delivers an event to all handlers subscribed to its topic, then
// to wildcard handlers, each in registration order. A panicking handler is
// recovered and logged; it never terminates the producer or starves the
// remaining handlers.
func (b *Bus) Publish(event Event) {
	topic := event.EventTopic()

	b.mu.RLock()
	specific := make([]subscription, len(b.subscriptions[topic]))
	copy(specific, b.subscriptions[topic])
	wild := make([]subscription, len(b.subscriptions[wildcard]))
	copy(wild, b.subscriptions[wildcard])
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, event)
	}
	for _, sub := range wild {
		b.safeCall(sub.handler, event)
	}
}

func (b *Bus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: event handler panicked on topic %s: %v\n%s",
				event.EventTopic(), r, debug.Stack())
		}
	}()
	handler(event)
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
