package rtmpserver

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/kbats183/simple-media-server/pkg/session"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/yapingcat/gomedia/go-rtmp"
)

func prepareConfig(config MediaServerConfig) MediaServerConfig {
	if config.Port == 0 {
		config.Port = 1935
	}
	if config.Bind == "" {
		config.Bind = "0.0.0.0"
	}
	return config
}

type MediaServer struct {
	config   MediaServerConfig
	registry registry.Registry
	log      logrus.FieldLogger
	wg       sync.WaitGroup
}

func NewMediaServer(config MediaServerConfig, registry registry.Registry, log logrus.FieldLogger) *MediaServer {
	return &MediaServer{
		config:   prepareConfig(config),
		registry: registry,
		log:      log.WithField("component", "rtmp"),
	}
}

func (s *MediaServer) Addr() string {
	return net.JoinHostPort(s.config.Bind, strconv.Itoa(s.config.Port))
}

// Start accepts connections until ctx is cancelled, then waits for the open
// sessions to finish.
func (s *MediaServer) Start(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return pkgerrors.Wrap(err, "failed to start RTMP server")
	}
	return s.Serve(ctx, listen)
}

func (s *MediaServer) Serve(ctx context.Context, listen net.Listener) error {
	defer s.wg.Wait()
	defer listen.Close()

	go func() {
		<-ctx.Done()
		listen.Close()
	}()

	s.log.Infof("RTMP server listening on %s", listen.Addr())
	for {
		conn, err := listen.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.WithError(err).Warn("Error accepting connection")
			continue
		}

		sess := s.newMediaSession(conn)
		sess.init()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.start(ctx)
		}()
	}
}

func (s *MediaServer) newMediaSession(conn net.Conn) *MediaSession {
	id := session.GenId()
	return &MediaSession{
		id:       id,
		conn:     conn,
		handle:   rtmp.NewRtmpServerHandle(),
		quit:     make(chan struct{}),
		registry: s.registry,
		log:      s.log.WithFields(logrus.Fields{"conn": id, "remote": conn.RemoteAddr().String()}),
	}
}
