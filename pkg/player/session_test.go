package player

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kbats183/simple-media-server/pkg/events"
	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/kbats183/simple-media-server/pkg/session"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushes++
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type publisher struct {
	*session.Base
}

func (p *publisher) SendBuffer([]byte) error { return nil }

func TestPlayerReceivesBuffersInOrder(t *testing.T) {
	log, _ := test.NewNullLogger()
	bus := events.NewBus()
	reg := registry.NewRegistry(bus, nil, log)
	pub := &publisher{Base: session.NewBase(session.KindPublisher, "rtmp", "live", "cam")}
	b := reg.GetOrCreateBroadcast(pub.StreamPath())
	require.NoError(t, b.AttachPublisher(pub))
	b.SetHeader([]byte("FLV|"))

	var played, donePlay int
	bus.On(events.PostPlay, func(events.Event) { played++ })
	bus.On(events.DonePlay, func(events.Event) { donePlay++ })

	out := &syncBuffer{}
	p := NewSession("live", "cam", out, log)
	done := make(chan error, 1)
	go func() { done <- p.Serve(context.Background(), reg, bus) }()

	require.Eventually(t, func() bool { return b.IsSubscribed(p.ID()) }, time.Second, time.Millisecond)
	b.Deliver([]byte("a|"))
	b.Deliver([]byte("b|"))
	b.Deliver([]byte("c|"))

	require.Eventually(t, func() bool { return out.String() == "FLV|a|b|c|" }, time.Second, time.Millisecond)

	b.DetachPublisher(pub)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("player did not stop after donePublish")
	}
	assert.False(t, b.IsSubscribed(p.ID()))
	assert.EqualValues(t, len("FLV|a|b|c|"), p.OutBytes())
	assert.Equal(t, 1, played)
	assert.Equal(t, 1, donePlay)
	_, err := reg.GetSession(p.ID())
	assert.Error(t, err)
}

func TestPlayerStopsOnContextCancel(t *testing.T) {
	log, _ := test.NewNullLogger()
	bus := events.NewBus()
	reg := registry.NewRegistry(bus, nil, log)
	p := NewSession("live", "cam", &syncBuffer{}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx, reg, bus) }()
	cancel()
	require.NoError(t, <-done)
	assert.True(t, errors.Is(p.SendBuffer([]byte("x")), ErrClosed))
}

func TestSendBufferBoundedQueue(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := NewSession("live", "cam", &syncBuffer{}, log)
	p.SetMaxPendingBytes(4)

	require.NoError(t, p.SendBuffer([]byte("abc")))
	err := p.SendBuffer([]byte("de"))
	assert.True(t, errors.Is(err, ErrQueueFull))
	require.NoError(t, p.SendBuffer([]byte("d")))

	src := []byte("z")
	p.SetMaxPendingBytes(10)
	require.NoError(t, p.SendBuffer(src))
	src[0] = 'X'

	out := &syncBuffer{}
	p.w = out
	require.NoError(t, p.writePending())
	assert.Equal(t, "abcdz", out.String())
	assert.Equal(t, 1, out.flushes)
}
