package rtmpserver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/sirupsen/logrus"
	"github.com/yapingcat/gomedia/go-rtmp"
)

type MediaSession struct {
	id     string
	conn   net.Conn
	handle *rtmp.RtmpServerHandle

	quit     chan struct{}
	die      sync.Once
	registry registry.Registry
	log      logrus.FieldLogger

	mu       sync.Mutex
	producer *MediaProducer
}

func (sess *MediaSession) init() {
	sess.handle.SetOutput(func(b []byte) error {
		_, err := sess.conn.Write(b)
		return err
	})

	// playback is served over HTTP-FLV
	sess.handle.OnPlay(func(app, streamName string, start, duration float64, reset bool) rtmp.StatusCode {
		sess.log.Infof("Reject rtmp play of /%s/%s", app, streamName)
		return rtmp.NETSTREAM_PLAY_NOTFOUND
	})

	sess.handle.OnPublish(func(app, streamName string) rtmp.StatusCode {
		p, err := newMediaProducer(app, streamName, sess.registry, sess.log)
		if err != nil {
			sess.log.WithError(err).Warnf("Reject rtmp publish of /%s/%s", app, streamName)
			return rtmp.NETCONNECT_CONNECT_REJECTED
		}
		sess.mu.Lock()
		sess.producer = p
		sess.mu.Unlock()
		return rtmp.NETSTREAM_PUBLISH_START
	})

	sess.handle.OnStateChange(func(newState rtmp.RtmpState) {
		if newState == rtmp.STATE_RTMP_PUBLISH_START {
			p := sess.currentProducer()
			if p == nil {
				return
			}
			sess.log.Infof("New rtmp stream %s", p.pub.StreamPath())
			sess.handle.OnFrame(p.onFrame)
		} else if newState == rtmp.STATE_RTMP_PUBLISH_FAILED {
			sess.log.Infof("Failed rtmp stream %s", sess.handle.GetStreamName())
			sess.stop()
		}
	})
}

func (sess *MediaSession) currentProducer() *MediaProducer {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.producer
}

func (sess *MediaSession) start(ctx context.Context) {
	defer sess.stop()
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.quit:
			return
		default:
		}
		err := sess.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		if err != nil {
			sess.log.WithError(err).Warn("MediaSession set read deadline error")
			return
		}
		n, err := sess.conn.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			sess.log.WithError(err).Warn("MediaSession read error")
			return
		}
		if p := sess.currentProducer(); p != nil {
			p.addInBytes(n)
		}
		err = sess.handle.Input(buf[:n])
		if err != nil {
			sess.log.WithError(err).Warn("MediaSession handle error")
			return
		}
		if p := sess.currentProducer(); p != nil && p.Closed() {
			return
		}
	}
}

func (sess *MediaSession) stop() {
	sess.mu.Lock()
	p := sess.producer
	sess.producer = nil
	sess.mu.Unlock()
	if p != nil {
		_ = p.Close()
	}
	_ = sess.Close()
}

func (sess *MediaSession) Close() error {
	sess.die.Do(func() {
		close(sess.quit)
		_ = sess.conn.Close()
	})
	return nil
}
