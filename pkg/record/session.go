package record

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kbats183/simple-media-server/pkg/events"
	"github.com/kbats183/simple-media-server/pkg/metrics"
	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/kbats183/simple-media-server/pkg/session"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

const segmentTimeLayout = "20060102150405"

type Segment struct {
	Index     int       `json:"index"`
	Path      string    `json:"path"`
	Timestamp string    `json:"timestamp"`
	Size      uint64    `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// SegmentName renders <YYYYMMDDHHMMSS>_segment_<NNN>.flv.
func SegmentName(openedAt time.Time, index int) string {
	return fmt.Sprintf("%s_segment_%03d.flv", openedAt.UTC().Format(segmentTimeLayout), index)
}

// Session is a subscriber that writes every delivered buffer to the open
// segment file and rotates to a new file once the segment is older than
// SegmentDuration.
type Session struct {
	*session.Base

	registry  registry.Registry
	broadcast *registry.Broadcast
	bus       *events.Bus
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	opts      Options
	dir       string

	mu           sync.Mutex
	state        State
	file         *os.File
	index        int
	segmentStart time.Time
	segments     []Segment

	done        chan struct{}
	wg          sync.WaitGroup
	donePublish *events.Subscription
}

func NewSession(app, name string, opts Options, reg registry.Registry, bus *events.Bus, m *metrics.Metrics, log logrus.FieldLogger) *Session {
	opts = opts.withDefaults()
	s := &Session{
		Base:     session.NewBase(session.KindRecorder, "flv", app, name),
		registry: reg,
		bus:      bus,
		metrics:  m,
		opts:     opts,
		dir:      filepath.Join(opts.Path, app, name),
		done:     make(chan struct{}),
	}
	s.log = log.WithFields(logrus.Fields{"stream": s.StreamPath(), "session": s.ID()})
	s.broadcast = reg.GetOrCreateBroadcast(s.StreamPath())
	return s
}

func (s *Session) SendBuffer(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording || s.file == nil {
		return nil
	}
	n, err := s.file.Write(buf)
	s.AddOutBytes(n)
	if n > 0 {
		s.segments[len(s.segments)-1].Size += uint64(n)
	}
	if err != nil {
		return errors.Wrapf(err, "write segment %s", s.file.Name())
	}
	return nil
}

func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrStarted
	}
	if err := s.checkDir(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.mu.Unlock()
		return errors.Wrapf(ErrResource, "create %s: %v", s.dir, err)
	}
	f, err := s.openSegmentLocked(s.opts.Clock())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.file = f
	s.state = StateRecording
	s.mu.Unlock()

	s.registry.RegisterSession(s)
	if s.bus != nil {
		s.donePublish = s.bus.On(events.DonePublish, func(ev events.Event) {
			if ev.StreamPath == s.StreamPath() {
				if err := s.Stop(); err != nil {
					s.log.WithError(err).Warn("Record stop finished with error")
				}
			}
		})
	}
	s.broadcast.Subscribe(s)

	s.wg.Add(1)
	go s.rotationLoop()

	s.metrics.IncRecordingsStarted()
	s.log.WithField("dir", s.dir).Info("Record session started")
	return nil
}

// checkDir keeps the recording directory inside the record root.
func (s *Session) checkDir() error {
	root, err := filepath.Abs(s.opts.Path)
	if err != nil {
		return errors.Wrapf(ErrResource, "record root %s: %v", s.opts.Path, err)
	}
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return errors.Wrapf(ErrResource, "record dir %s: %v", s.dir, err)
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.Wrapf(ErrResource, "record dir %s is outside %s", s.dir, s.opts.Path)
	}
	return nil
}

func (s *Session) openSegmentLocked(now time.Time) (*os.File, error) {
	index := s.index + 1
	path := filepath.Join(s.dir, SegmentName(now, index))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(ErrResource, "open segment %s: %v", path, err)
	}
	s.index = index
	s.segmentStart = now
	s.segments = append(s.segments, Segment{
		Index:     index,
		Path:      path,
		Timestamp: now.UTC().Format(segmentTimeLayout),
		CreatedAt: now,
	})
	s.metrics.IncSegments()
	s.log.WithField("file", path).Info("Record new segment started")
	return f, nil
}

func (s *Session) closeFileLocked() error {
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	syncErr := f.Sync()
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close segment %s", f.Name())
	}
	if syncErr != nil {
		return errors.Wrapf(syncErr, "sync segment %s", f.Name())
	}
	s.log.WithField("file", f.Name()).Info("Record segment completed")
	return nil
}

func (s *Session) rotationLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.CheckRotation(); err != nil {
				s.log.WithError(err).Error("Record segment rotation failed")
			}
		case <-s.done:
			return
		}
	}
}

// CheckRotation rotates the segment if it has been open for at least
// SegmentDuration. The new file is opened and the session re-subscribed
// between two deliveries so no buffer is lost or written twice.
func (s *Session) CheckRotation() error {
	s.mu.Lock()
	due := s.state == StateRecording && s.opts.Clock().Sub(s.segmentStart) >= s.opts.SegmentDuration
	s.mu.Unlock()
	if !due {
		return nil
	}
	err := s.broadcast.Resubscribe(s, s.rotate)
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}

func (s *Session) rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return errStopped
	}
	next, err := s.openSegmentLocked(s.opts.Clock())
	if err != nil {
		return err
	}
	if err := s.closeFileLocked(); err != nil {
		s.log.WithError(err).Warn("Record segment close failed")
	}
	s.file = next
	return nil
}

// Stop ends the recording. Only the first call does any work; later calls
// return nil.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRecording {
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	s.donePublish.Cancel()
	s.broadcast.Unsubscribe(s)

	s.mu.Lock()
	err := s.closeFileLocked()
	total := s.index
	s.mu.Unlock()

	s.registry.UnregisterSession(s.ID())
	s.metrics.IncRecordingsFinished()
	s.log.WithField("segments", total).Info("Record session done")
	if s.bus != nil {
		s.bus.Emit(events.NewEvent(events.DoneRecord, s))
	}
	return err
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Dir() string {
	return s.dir
}

func (s *Session) SegmentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *Session) CurrentFilePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}

func (s *Session) Segments() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.segments)
}

// Info snapshots the recording for the HTTP API.
func (s *Session) Info() Info {
	return Info{
		StreamPath: s.StreamPath(),
		SessionID:  s.ID(),
		Dir:        s.Dir(),
		State:      s.State().String(),
		OutBytes:   s.OutBytes(),
		StartedAt:  s.CreateTime(),
		Segments:   s.Segments(),
	}
}
