package record

import (
	"os"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kbats183/simple-media-server/pkg/events"
	"github.com/kbats183/simple-media-server/pkg/metrics"
	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/kbats183/simple-media-server/pkg/session"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Server owns the recording sessions and guarantees at most one per stream
// path. When running it starts a recording on every postPublish.
type Server struct {
	opts     Options
	registry registry.Registry
	bus      *events.Bus
	metrics  *metrics.Metrics
	log      logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*Session
	subs     []*events.Subscription
}

type Info struct {
	StreamPath string    `json:"streamPath"`
	SessionID  string    `json:"sessionId"`
	Dir        string    `json:"dir"`
	State      string    `json:"state"`
	OutBytes   uint64    `json:"outBytes"`
	StartedAt  time.Time `json:"startedAt"`
	Segments   []Segment `json:"segments"`
}

func NewServer(opts Options, reg registry.Registry, bus *events.Bus, m *metrics.Metrics, log logrus.FieldLogger) *Server {
	return &Server{
		opts:     opts.withDefaults(),
		registry: reg,
		bus:      bus,
		metrics:  m,
		log:      log.WithField("component", "record"),
		sessions: make(map[string]*Session),
	}
}

func (s *Server) Enabled() bool {
	return s.opts.Path != ""
}

func (s *Server) Run() error {
	if !s.Enabled() {
		s.log.Info("Record path not configured, recording disabled")
		return nil
	}
	if err := checkWritable(s.opts.Path); err != nil {
		s.log.WithError(err).Errorf("Record path %s has no write permission", s.opts.Path)
		return err
	}
	s.log.Infof("Record server start on the path %s", s.opts.Path)
	s.log.Infof("Record segment duration: %s", s.opts.SegmentDuration)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs,
		s.bus.On(events.PostPublish, func(ev events.Event) {
			if _, err := s.StartRecord(ev.StreamPath); err != nil {
				if errors.Is(err, registry.ErrConflict) {
					s.log.WithField("stream", ev.StreamPath).Warn("Record session already exists")
					return
				}
				s.log.WithField("stream", ev.StreamPath).WithError(err).Error("Failed to start recording")
			}
		}),
		s.bus.On(events.DonePublish, func(ev events.Event) {
			if rs := s.forget(ev.StreamPath); rs != nil {
				if err := rs.Stop(); err != nil {
					s.log.WithField("stream", ev.StreamPath).WithError(err).Warn("Record stop finished with error")
				}
				s.log.WithField("stream", ev.StreamPath).Info("Stopped recording")
			}
		}),
		s.bus.On(events.DoneRecord, func(ev events.Event) {
			s.log.WithField("stream", ev.StreamPath).Info("Record completed")
		}),
	)
	return nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(ErrResource, "create %s: %v", dir, err)
	}
	f, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return errors.Wrapf(ErrResource, "write %s: %v", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

func (s *Server) StartRecord(streamPath string) (*Session, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	app, name, ok := session.SplitPath(streamPath)
	if !ok {
		return nil, errors.Wrapf(registry.ErrInvalidStreamPath, "%q", streamPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[streamPath]; exists {
		return nil, errors.Wrapf(ErrAlreadyRecording, "stream %s", streamPath)
	}
	rs := NewSession(app, name, s.opts, s.registry, s.bus, s.metrics, s.log)
	if err := rs.Start(); err != nil {
		return nil, err
	}
	s.sessions[streamPath] = rs
	s.log.WithField("stream", streamPath).Info("Started recording")
	return rs, nil
}

// StopRecord stops the recording of streamPath started by this server.
func (s *Server) StopRecord(streamPath string) error {
	rs := s.forget(streamPath)
	if rs == nil {
		return errors.Wrapf(ErrNotRecording, "stream %s", streamPath)
	}
	err := rs.Stop()
	s.log.WithField("stream", streamPath).Info("Manually stopped recording")
	return err
}

func (s *Server) forget(streamPath string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.sessions[streamPath]
	if !ok {
		return nil
	}
	delete(s.sessions, streamPath)
	return rs
}

func (s *Server) Session(streamPath string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.sessions[streamPath]
	return rs, ok
}

// ActiveRecords returns the recorded stream paths in sorted order.
func (s *Server) ActiveRecords() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.sessions))
	for p := range s.sessions {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

func (s *Server) Infos() []Info {
	infos := make([]Info, 0)
	for _, p := range s.ActiveRecords() {
		rs, ok := s.Session(p)
		if !ok {
			continue
		}
		infos = append(infos, rs.Info())
	}
	return infos
}

func (s *Server) StopAll() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	var result *multierror.Error
	for p, rs := range sessions {
		if err := rs.Stop(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "stop %s", p))
		}
		s.log.WithField("stream", p).Info("Stopped recording")
	}
	return result.ErrorOrNil()
}

// Close detaches the server from lifecycle events and stops every recording.
func (s *Server) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
	return s.StopAll()
}
