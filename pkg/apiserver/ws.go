package apiserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kbats183/simple-media-server/pkg/statistics"
	"github.com/sirupsen/logrus"
)

const (
	feedBuffer   = 4
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// dashboardFeed pushes every statistics sample to connected websocket
// clients. Slow clients drop samples instead of stalling the sampler.
type dashboardFeed struct {
	stats *statistics.Manager
	log   logrus.FieldLogger

	mu      sync.Mutex
	clients map[chan statistics.Dashboard]struct{}
}

func newDashboardFeed(stats *statistics.Manager, log logrus.FieldLogger) *dashboardFeed {
	f := &dashboardFeed{
		stats:   stats,
		log:     log,
		clients: make(map[chan statistics.Dashboard]struct{}),
	}
	stats.OnSample(f.publish)
	return f
}

func (f *dashboardFeed) publish(d statistics.Dashboard) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.clients {
		select {
		case ch <- d:
		default:
		}
	}
}

func (f *dashboardFeed) add() chan statistics.Dashboard {
	ch := make(chan statistics.Dashboard, feedBuffer)
	f.mu.Lock()
	f.clients[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *dashboardFeed) remove(ch chan statistics.Dashboard) {
	f.mu.Lock()
	delete(f.clients, ch)
	f.mu.Unlock()
}

func (f *dashboardFeed) clientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *dashboardFeed) serve() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			f.log.WithError(err).Warn("Websocket upgrade failed")
			return
		}
		defer conn.Close()

		ch := f.add()
		defer f.remove(ch)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		if err := f.send(conn, f.stats.Dashboard()); err != nil {
			return
		}
		for {
			select {
			case d := <-ch:
				if err := f.send(conn, d); err != nil {
					f.log.WithError(err).Debug("Websocket client gone")
					return
				}
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

func (f *dashboardFeed) send(conn *websocket.Conn, d statistics.Dashboard) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(Response{Success: true, Data: d, Timestamp: nowMillis()})
}
