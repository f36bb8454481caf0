package emit

import "sync"

// BufferedEmitter collects events in memory. Useful in tests and for
// batched delivery to a downstream sink.
type BufferedEmitter struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewBufferedEmitter creates a BufferedEmitter. limit bounds the
// buffer; zero means unbounded. When the buffer is full the oldest
// events are dropped, so Emit never blocks.
func NewBufferedEmitter(limit int) *BufferedEmitter {
	return &BufferedEmitter{limit: limit}
}

// Emit implements Emitter.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	if b.limit > 0 && len(b.events) > b.limit {
		b.events = b.events[len(b.events)-b.limit:]
	}
}

// Events returns a snapshot of the buffered events.
func (b *BufferedEmitter) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// ByMsg returns the buffered events carrying the given message name.
func (b *BufferedEmitter) ByMsg(msg string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, e := range b.events {
		if e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards the buffered events.
func (b *BufferedEmitter) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
