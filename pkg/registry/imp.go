package registry

import (
	"maps"
	"sync"

	"github.com/kbats183/simple-media-server/pkg/events"
	"github.com/kbats183/simple-media-server/pkg/metrics"
	"github.com/kbats183/simple-media-server/pkg/session"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type registryImpl struct {
	broadcasts map[string]*Broadcast
	sessions   map[string]session.Session
	mux        sync.Mutex

	bus     *events.Bus
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

func (r *registryImpl) GetOrCreateBroadcast(streamPath string) *Broadcast {
	r.mux.Lock()
	defer r.mux.Unlock()
	if b, ok := r.broadcasts[streamPath]; ok {
		return b
	}
	b := newBroadcast(streamPath, r.bus, r.metrics, r.log)
	r.broadcasts[streamPath] = b
	r.log.WithField("stream", streamPath).Debug("Broadcast created")
	return b
}

func (r *registryImpl) GetBroadcast(streamPath string) (*Broadcast, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if b, ok := r.broadcasts[streamPath]; ok {
		return b, nil
	}
	return nil, errors.Wrap(ErrStreamNotFound, streamPath)
}

func (r *registryImpl) GetBroadcasts() map[string]*Broadcast {
	r.mux.Lock()
	defer r.mux.Unlock()
	return maps.Clone(r.broadcasts)
}

func (r *registryImpl) RegisterSession(s session.Session) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.sessions[s.ID()] = s
}

func (r *registryImpl) UnregisterSession(id string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	delete(r.sessions, id)
}

func (r *registryImpl) GetSession(id string) (session.Session, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	return nil, errors.Wrap(ErrSessionNotFound, id)
}

func (r *registryImpl) GetSessions() map[string]session.Session {
	r.mux.Lock()
	defer r.mux.Unlock()
	return maps.Clone(r.sessions)
}

func NewRegistry(bus *events.Bus, m *metrics.Metrics, log logrus.FieldLogger) Registry {
	return &registryImpl{
		broadcasts: make(map[string]*Broadcast),
		sessions:   make(map[string]session.Session),
		bus:        bus,
		metrics:    m,
		log:        log,
	}
}
