package player

import (
	"context"
	"io"
	"slices"
	"sync"

	"github.com/kbats183/simple-media-server/pkg/events"
	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/kbats183/simple-media-server/pkg/session"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultMaxPendingBytes = 8 << 20

var (
	ErrQueueFull = errors.New("player queue full")
	ErrClosed    = errors.New("player closed")
)

type flusher interface {
	Flush()
}

// Session streams the broadcast to one live client. SendBuffer only queues;
// Serve writes queued buffers to the client in arrival order.
type Session struct {
	*session.Base
	w          io.Writer
	log        logrus.FieldLogger
	maxPending int

	mu           sync.Mutex
	pending      [][]byte
	pendingBytes int
	frameCome    chan struct{}

	quit chan struct{}
	die  sync.Once
}

func NewSession(app, name string, w io.Writer, log logrus.FieldLogger) *Session {
	p := &Session{
		Base:       session.NewBase(session.KindPlayer, "flv", app, name),
		w:          w,
		maxPending: DefaultMaxPendingBytes,
		frameCome:  make(chan struct{}, 1),
		quit:       make(chan struct{}),
	}
	p.log = log.WithFields(logrus.Fields{"stream": p.StreamPath(), "session": p.ID()})
	return p
}

// SetMaxPendingBytes bounds the bytes queued but not yet written.
func (p *Session) SetMaxPendingBytes(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxPending = n
}

func (p *Session) SendBuffer(buf []byte) error {
	p.mu.Lock()
	select {
	case <-p.quit:
		p.mu.Unlock()
		return ErrClosed
	default:
	}
	if p.pendingBytes+len(buf) > p.maxPending {
		p.mu.Unlock()
		return errors.Wrapf(ErrQueueFull, "%d bytes pending", p.pendingBytes)
	}
	p.pending = append(p.pending, slices.Clone(buf))
	p.pendingBytes += len(buf)
	p.mu.Unlock()

	select {
	case p.frameCome <- struct{}{}:
	default:
	}
	return nil
}

func (p *Session) Close() {
	p.die.Do(func() {
		close(p.quit)
	})
}

// Serve subscribes to the stream and writes to the client until ctx is done,
// the client write fails, Close is called or the publisher goes away.
func (p *Session) Serve(ctx context.Context, reg registry.Registry, bus *events.Bus) error {
	b := reg.GetOrCreateBroadcast(p.StreamPath())
	sub := bus.On(events.DonePublish, func(ev events.Event) {
		if ev.StreamPath == p.StreamPath() {
			p.Close()
		}
	})
	reg.RegisterSession(p)
	b.Subscribe(p)
	bus.Emit(events.NewEvent(events.PostPlay, p))
	p.log.Info("Player started")

	defer func() {
		sub.Cancel()
		b.Unsubscribe(p)
		p.Close()
		reg.UnregisterSession(p.ID())
		bus.Emit(events.NewEvent(events.DonePlay, p))
		p.log.WithField("outBytes", p.OutBytes()).Info("Player stopped")
	}()

	for {
		select {
		case <-p.frameCome:
			if err := p.writePending(); err != nil {
				return err
			}
		case <-p.quit:
			return p.writePending()
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Session) writePending() error {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.pendingBytes = 0
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	for _, buf := range batch {
		n, err := p.w.Write(buf)
		p.AddOutBytes(n)
		if err != nil {
			return errors.Wrap(err, "write to player")
		}
	}
	if f, ok := p.w.(flusher); ok {
		f.Flush()
	}
	return nil
}
