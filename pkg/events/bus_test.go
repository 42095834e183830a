package events

import (
	"testing"

	"github.com/kbats183/simple-media-server/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	*session.Base
}

func (s *stubSession) SendBuffer([]byte) error { return nil }

func newStub() *stubSession {
	return &stubSession{Base: session.NewBase(session.KindPublisher, "rtmp", "live", "cam")}
}

func TestBusEmitInOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.On(PostPublish, func(ev Event) { got = append(got, "a:"+ev.StreamPath) })
	bus.On(PostPublish, func(ev Event) { got = append(got, "b:"+ev.StreamPath) })
	bus.On(DonePublish, func(ev Event) { got = append(got, "done") })

	s := newStub()
	bus.Emit(NewEvent(PostPublish, s))
	assert.Equal(t, []string{"a:/live/cam", "b:/live/cam"}, got)
}

func TestSubscriptionCancelIdempotent(t *testing.T) {
	bus := NewBus()
	calls := 0
	sub := bus.On(DoneRecord, func(Event) { calls++ })
	bus.On(DoneRecord, func(Event) {})
	require.Equal(t, 2, bus.ListenerCount(DoneRecord))

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 1, bus.ListenerCount(DoneRecord))

	bus.Emit(NewEvent(DoneRecord, newStub()))
	assert.Equal(t, 0, calls)

	var nilSub *Subscription
	nilSub.Cancel()
}

func TestCancelFromHandlerDoesNotDoubleFire(t *testing.T) {
	bus := NewBus()
	calls := 0
	var sub *Subscription
	sub = bus.On(DonePublish, func(Event) {
		calls++
		sub.Cancel()
	})
	s := newStub()
	bus.Emit(NewEvent(DonePublish, s))
	bus.Emit(NewEvent(DonePublish, s))
	assert.Equal(t, 1, calls)
}

func TestCancelledByEarlierHandlerIsSkipped(t *testing.T) {
	bus := NewBus()
	var second *Subscription
	fired := false
	bus.On(DonePlay, func(Event) { second.Cancel() })
	second = bus.On(DonePlay, func(Event) { fired = true })

	bus.Emit(NewEvent(DonePlay, newStub()))
	assert.False(t, fired)
}
