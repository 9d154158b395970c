package browser

import (
	"sync"

	"github.com/ternarybob/keepliver/internal/interfaces"
)

// maxBufferedEvents bounds the network buffer between two drains
const maxBufferedEvents = 4096

// eventBuffer collects network events and binding calls pushed by a backend's event loop
type eventBuffer struct {
	mu       sync.Mutex
	network  []interfaces.NetworkEvent
	dropped  int
	bindings map[string]chan string
}

func newEventBuffer() *eventBuffer {
	return &eventBuffer{bindings: make(map[string]chan string)}
}

func (b *eventBuffer) pushNetwork(ev interfaces.NetworkEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.network) >= maxBufferedEvents {
		b.dropped++
		return
	}
	b.network = append(b.network, ev)
}

// drain returns and clears the buffered events, with the count dropped since the last drain
func (b *eventBuffer) drain() ([]interfaces.NetworkEvent, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	events, dropped := b.network, b.dropped
	b.network, b.dropped = nil, 0
	return events, dropped
}

func (b *eventBuffer) channel(name string) chan string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.bindings[name]
	if !ok {
		ch = make(chan string, 256)
		b.bindings[name] = ch
	}
	return ch
}

// deliver never blocks the event loop; a full channel drops the payload
func (b *eventBuffer) deliver(name, payload string) bool {
	b.mu.Lock()
	ch, ok := b.bindings[name]
	b.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- payload:
		return true
	default:
		return false
	}
}
