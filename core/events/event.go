package events

import (
	"sync"

	"brokerchain/core/types"
)

// Event represents a structured state change emitted by the broker.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Record adapts a *types.Event to the Event interface. Native modules wrap
// their payloads in a Record before handing them to an emitter.
type Record struct {
	Evt *types.Event
}

// EventType implements Event.
func (r Record) EventType() string {
	if r.Evt == nil {
		return ""
	}
	return r.Evt.Type
}

// Event returns the wrapped payload.
func (r Record) Event() *types.Event { return r.Evt }

// Payload extracts the typed payload carried by evt, if any.
func Payload(evt Event) (*types.Event, bool) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return nil, false
	}
	payload := carrier.Event()
	return payload, payload != nil
}

// Buffer collects events emitted during a single operation so the caller can
// decide whether to publish them once the operation outcome is known.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()
}

// Events returns a copy of the buffered events in emission order.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Flush forwards the buffered events to target and clears the buffer.
func (b *Buffer) Flush(target Emitter) {
	b.mu.Lock()
	pending := b.events
	b.events = nil
	b.mu.Unlock()
	if target == nil {
		return
	}
	for _, evt := range pending {
		target.Emit(evt)
	}
}

// Discard drops all buffered events.
func (b *Buffer) Discard() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

// Multi fans every event out to each configured emitter in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(evt Event) {
	for _, target := range m {
		if target != nil {
			target.Emit(evt)
		}
	}
}
