package detector

import (
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-micwatch/internal/types"
)

// Broadcaster fans transitions out to any number of subscribers. Slow
// subscribers miss transitions instead of blocking the engine.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan types.Transition
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan types.Transition)}
}

// Subscribe returns a channel receiving every transition and a function
// that removes the subscription and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan types.Transition, func()) {
	ch := make(chan types.Transition, max(buffer, 1))

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers t to every subscriber without blocking.
func (b *Broadcaster) Publish(t types.Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- t:
		default:
			slog.Debug("transition dropped for slow subscriber", "subscriber", id)
		}
	}
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
