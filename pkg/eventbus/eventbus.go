// Package eventbus provides the Bus interface and an in-memory implementation
// used to tell open connections that a notebook file changed on disk.
package eventbus

import (
	"sync"

	"github.com/jxucoder/bashnotes/pkg/model"
)

// Bus provides pub/sub for file change events, keyed by absolute path.
type Bus interface {
	Subscribe(path string) chan *model.FileEvent
	Unsubscribe(path string, ch chan *model.FileEvent)
	Publish(path string, event *model.FileEvent)
}

// InMemoryBus is the default in-memory Bus implementation.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan *model.FileEvent
}

// NewInMemoryBus creates a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs: make(map[string][]chan *model.FileEvent),
	}
}

// Subscribe creates a channel that receives events for a path.
func (b *InMemoryBus) Subscribe(path string) chan *model.FileEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *model.FileEvent, 8)
	b.subs[path] = append(b.subs[path], ch)
	return ch
}

// Unsubscribe removes a channel from the path's subscribers and closes it.
func (b *InMemoryBus) Unsubscribe(path string, ch chan *model.FileEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[path]
	for i, s := range subs {
		if s == ch {
			b.subs[path] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[path]) == 0 {
				delete(b.subs, path)
			}
			close(ch)
			return
		}
	}
}

// Publish sends an event to all subscribers for a path.
func (b *InMemoryBus) Publish(path string, event *model.FileEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[path] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is too slow; a pending one already
			// triggers a re-render.
		}
	}
}

// Subscribers returns the number of subscribers for a path.
func (b *InMemoryBus) Subscribers(path string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[path])
}
