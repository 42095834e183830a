package registry

import (
	"slices"
	"strings"
	"sync"

	"github.com/kbats183/simple-media-server/pkg/events"
	"github.com/kbats183/simple-media-server/pkg/metrics"
	"github.com/kbats183/simple-media-server/pkg/session"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// HeaderProvider is implemented by publishers whose stream needs a preamble
// before the first buffer, such as an FLV file header.
type HeaderProvider interface {
	StreamHeader() []byte
}

// Broadcast fans out one publisher's buffers to every subscriber of a stream
// path. A single lock serialises attach, detach, subscribe and delivery, so a
// subscriber added or removed between two Deliver calls sees either all of a
// buffer or none of it. SendBuffer implementations must not call back into
// the same Broadcast.
type Broadcast struct {
	path    string
	bus     *events.Bus
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	mu          sync.Mutex
	publisher   session.Session
	subscribers map[string]session.Session
	header      []byte
}

func newBroadcast(path string, bus *events.Bus, m *metrics.Metrics, log logrus.FieldLogger) *Broadcast {
	return &Broadcast{
		path:        path,
		bus:         bus,
		metrics:     m,
		log:         log.WithField("stream", path),
		subscribers: make(map[string]session.Session),
	}
}

func (b *Broadcast) Path() string {
	return b.path
}

func (b *Broadcast) AttachPublisher(s session.Session) error {
	b.mu.Lock()
	if b.publisher != nil {
		current := b.publisher.ID()
		b.mu.Unlock()
		return errors.Wrapf(ErrConflict, "stream %s is already published by %s", b.path, current)
	}
	b.publisher = s
	if hp, ok := s.(HeaderProvider); ok {
		b.header = slices.Clone(hp.StreamHeader())
		// sessions that joined before the publisher have not seen a header yet
		if len(b.header) > 0 {
			for _, sub := range b.subscribers {
				b.send(sub, b.header)
			}
		}
	}
	b.mu.Unlock()

	b.log.WithField("session", s.ID()).Info("Publisher attached")
	b.emit(events.PostPublish, s)
	return nil
}

// DetachPublisher clears the publisher only if s is the attached one.
func (b *Broadcast) DetachPublisher(s session.Session) bool {
	b.mu.Lock()
	if b.publisher == nil || b.publisher.ID() != s.ID() {
		b.mu.Unlock()
		return false
	}
	b.publisher = nil
	b.header = nil
	b.mu.Unlock()

	b.log.WithField("session", s.ID()).Info("Publisher detached")
	b.emit(events.DonePublish, s)
	return true
}

func (b *Broadcast) Publisher() session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publisher
}

// SetHeader replaces the stream preamble sent to every session on
// (re)subscribe. Current subscribers are not sent the new header.
func (b *Broadcast) SetHeader(header []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.header = slices.Clone(header)
}

// Subscribe adds s and reports whether it was not already subscribed.
func (b *Broadcast) Subscribe(s session.Session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[s.ID()]; ok {
		return false
	}
	b.join(s)
	return true
}

// Unsubscribe removes s and reports whether it was subscribed.
func (b *Broadcast) Unsubscribe(s session.Session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[s.ID()]; !ok {
		return false
	}
	delete(b.subscribers, s.ID())
	return true
}

// Resubscribe runs between, then removes and re-adds s, all strictly between
// two deliveries. If between fails s keeps its current subscription and
// receives no new header.
func (b *Broadcast) Resubscribe(s session.Session, between func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if between != nil {
		if err := between(); err != nil {
			return err
		}
	}
	delete(b.subscribers, s.ID())
	b.join(s)
	return nil
}

func (b *Broadcast) join(s session.Session) {
	b.subscribers[s.ID()] = s
	if len(b.header) > 0 {
		b.send(s, b.header)
	}
}

func (b *Broadcast) IsSubscribed(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subscribers[id]
	return ok
}

func (b *Broadcast) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Subscribers returns a snapshot ordered by session id.
func (b *Broadcast) Subscribers() []session.Session {
	b.mu.Lock()
	subs := make([]session.Session, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	slices.SortFunc(subs, func(a, c session.Session) int {
		return strings.Compare(a.ID(), c.ID())
	})
	return subs
}

// Deliver hands buf to every current subscriber before returning. Subscribers
// must not retain buf.
func (b *Broadcast) Deliver(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscribers {
		b.send(s, buf)
	}
	b.metrics.IncBuffersDelivered(len(b.subscribers))
}

func (b *Broadcast) send(s session.Session, buf []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.IncDeliveryErrors()
			b.log.WithField("session", s.ID()).Errorf("Subscriber panicked on write: %v", r)
		}
	}()
	if err := s.SendBuffer(buf); err != nil {
		b.metrics.IncDeliveryErrors()
		b.log.WithField("session", s.ID()).
			WithError(errors.Wrapf(ErrDelivery, "%s %s: %v", s.Kind(), s.ID(), err)).
			Warn("Subscriber write failed")
	}
}

func (b *Broadcast) emit(name string, s session.Session) {
	if b.bus != nil {
		b.bus.Emit(events.NewEvent(name, s))
	}
}
