/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventNowPlaying       EventType = "now_playing"
	EventPlaybackState    EventType = "playback.state"
	EventTrackSkipped     EventType = "track.skipped"
	EventTrackBanned      EventType = "track.banned"
	EventTrackFailed      EventType = "track.failed"
	EventInterruptFired   EventType = "interrupt.fired"
	EventInterruptResumed EventType = "interrupt.resumed"
	EventModeChanged      EventType = "playback.mode"
	EventSessionOpened    EventType = "session.opened"
	EventSessionClosed    EventType = "session.closed"
)

// All lists every event type, for subscribers that want the whole stream.
var All = []EventType{
	EventNowPlaying,
	EventPlaybackState,
	EventTrackSkipped,
	EventTrackBanned,
	EventTrackFailed,
	EventInterruptFired,
	EventInterruptResumed,
	EventModeChanged,
	EventSessionOpened,
	EventSessionClosed,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is the publishing half of a broker.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Broker fans events out to subscribers, locally or across nodes.
type Broker interface {
	Publisher
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
	Close() error
}

// Bus implements a simple in-process pubsub. Slow subscribers miss events rather
// than block publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
	size int
}

// NewBus creates an event bus with the default subscriber buffer.
func NewBus() *Bus {
	return NewBusWithBuffer(32)
}

// NewBusWithBuffer creates an event bus whose subscriber channels hold size events.
func NewBusWithBuffer(size int) *Bus {
	if size <= 0 {
		size = 1
	}
	return &Bus{subs: make(map[EventType][]Subscriber), size: size}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, b.size)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Subscribers returns how many subscribers eventType has.
func (b *Bus) Subscribers(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close implements Broker.
func (b *Bus) Close() error { return nil }
