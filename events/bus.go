// Package events provides the in-process publish/subscribe bus that ties the
// session core to the rest of the application. Channels and events are plain
// strings and are created implicitly on first use.
package events

import "sync"

// Handler receives the payload published with Emit.
type Handler func(payload any)

// Unsubscribe removes a previously registered handler. Calling it more than
// once is harmless.
type Unsubscribe func()

type subscription struct {
	fn      Handler
	removed bool
}

type topic struct {
	on   []*subscription
	once []*subscription
}

// Bus is a named-channel, named-event publish/subscribe bus with synchronous
// fan-out. Persistent listeners registered with On fire before one-shot
// listeners registered with Once for the same event; within each group,
// listeners fire in registration order.
type Bus struct {
	mu     sync.Mutex
	topics map[string]map[string]*topic
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[string]*topic)}
}

func (b *Bus) topicFor(channel, event string) *topic {
	events, ok := b.topics[channel]
	if !ok {
		events = make(map[string]*topic)
		b.topics[channel] = events
	}
	t, ok := events[event]
	if !ok {
		t = &topic{}
		events[event] = t
	}
	return t
}

// On registers a persistent listener for channel/event.
func (b *Bus) On(channel, event string, fn Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{fn: fn}
	t := b.topicFor(channel, event)
	t.on = append(t.on, sub)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		sub.removed = true
	}
}

// Once registers a listener that is removed after its first delivery.
func (b *Bus) Once(channel, event string, fn Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{fn: fn}
	t := b.topicFor(channel, event)
	t.once = append(t.once, sub)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		sub.removed = true
	}
}

// Emit delivers payload to every listener of channel/event before returning.
// Persistent listeners fire first, then one-shot listeners, which are removed
// prior to invocation so a listener that re-emits cannot receive the same
// delivery twice.
func (b *Bus) Emit(channel, event string, payload any) {
	b.mu.Lock()
	var fns []Handler
	if events, ok := b.topics[channel]; ok {
		if t, ok := events[event]; ok {
			for _, sub := range t.on {
				if !sub.removed {
					fns = append(fns, sub.fn)
				}
			}
			for _, sub := range t.once {
				if !sub.removed {
					fns = append(fns, sub.fn)
				}
			}
			t.once = nil
		}
	}
	b.mu.Unlock()

	// Handlers run outside the lock so they may subscribe or emit.
	for _, fn := range fns {
		fn(payload)
	}
}
