package broadcast

import (
	"context"
	"sync"
)

// LocalBus fans events out to in-process subscribers. A subscriber whose
// buffer is full misses the event.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

func NewLocalBus(buffer int) *LocalBus {
	if buffer <= 0 {
		buffer = 16
	}
	return &LocalBus{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel.
func (b *LocalBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}
