package events

import (
	"sync"

	"github.com/kbats183/simple-media-server/pkg/session"
)

const (
	PostPublish = "postPublish"
	DonePublish = "donePublish"
	PostPlay    = "postPlay"
	DonePlay    = "donePlay"
	DoneRecord  = "doneRecord"
)

type Event struct {
	Name       string
	ID         string
	StreamPath string
	Session    session.Session
}

func NewEvent(name string, s session.Session) Event {
	return Event{Name: name, ID: s.ID(), StreamPath: s.StreamPath(), Session: s}
}

type Handler func(Event)

type listener struct {
	id      uint64
	handler Handler
}

// Bus dispatches lifecycle events synchronously on the emitting goroutine,
// in registration order.
type Bus struct {
	mu        sync.RWMutex
	nextId    uint64
	listeners map[string][]listener
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[string][]listener)}
}

// Subscription is returned by On. Cancel is safe to call more than once.
type Subscription struct {
	bus  *Bus
	name string
	id   uint64
	once sync.Once
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.name, s.id)
	})
}

func (b *Bus) On(name string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextId++
	b.listeners[name] = append(b.listeners[name], listener{id: b.nextId, handler: handler})
	return &Subscription{bus: b, name: name, id: b.nextId}
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls := b.listeners[name]
	for i, l := range ls {
		if l.id == id {
			next := make([]listener, 0, len(ls)-1)
			next = append(next, ls[:i]...)
			next = append(next, ls[i+1:]...)
			b.listeners[name] = next
			return
		}
	}
}

// Emit runs handlers outside the bus lock so they may subscribe, cancel or
// emit further events. A listener cancelled by an earlier handler of the same
// Emit is skipped.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	ls := b.listeners[ev.Name]
	b.mu.RUnlock()
	for _, l := range ls {
		if !b.active(ev.Name, l.id) {
			continue
		}
		l.handler(ev)
	}
}

func (b *Bus) active(name string, id uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners[name] {
		if l.id == id {
			return true
		}
	}
	return false
}

func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}
