package statistics

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kbats183/simple-media-server/pkg/metrics"
	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/sirupsen/logrus"
)

const (
	DefaultInterval = time.Second

	StatusOnline  = "online"
	StatusOffline = "offline"
)

type ServerStats struct {
	TotalStreams  int    `json:"totalStreams"`
	ActiveStreams int    `json:"activeStreams"`
	TotalViewers  int    `json:"totalViewers"`
	ServerUptime  string `json:"serverUptime"`
}

type StreamStats struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Viewers     int    `json:"viewers"`
	Bitrate     string `json:"bitrate"`
	BitrateKbps int    `json:"bitrateKbps"`
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Protocol    string `json:"protocol"`
}

type Dashboard struct {
	Server  ServerStats   `json:"server"`
	Streams []StreamStats `json:"streams"`
}

// streamState carries the last sampled ingest counter between ticks.
type streamState struct {
	stats        StreamStats
	publisherId  string
	lastInBytes  uint64
	lastSampleAt time.Time
}

// Manager samples the registry on a fixed cadence. It only reads broadcast
// and session state.
type Manager struct {
	registry registry.Registry
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	interval time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	startTime time.Time
	server    ServerStats
	streams   map[string]*streamState
	listeners []func(Dashboard)

	quit    chan struct{}
	die     sync.Once
	started sync.Once
	wg      sync.WaitGroup
}

type Option func(*Manager)

func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithMetrics(met *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

func NewManager(reg registry.Registry, log logrus.FieldLogger, opts ...Option) *Manager {
	m := &Manager{
		registry: reg,
		log:      log.WithField("component", "statistics"),
		interval: DefaultInterval,
		now:      time.Now,
		streams:  make(map[string]*streamState),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.startTime = m.now()
	m.server = ServerStats{ServerUptime: FormatUptime(0)}
	return m
}

// Start launches the sampling loop. Calling it again has no effect.
func (m *Manager) Start() {
	m.started.Do(func() {
		m.wg.Add(1)
		go m.loop()
		m.log.WithField("interval", m.interval).Info("Statistics sampler started")
	})
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.SampleOnce()
		case <-m.quit:
			return
		}
	}
}

// OnSample registers fn to receive a dashboard copy after every sample.
func (m *Manager) OnSample(fn func(Dashboard)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) SampleOnce() {
	broadcasts := m.registry.GetBroadcasts()
	now := m.now()

	m.mu.Lock()
	activeStreams, totalViewers := 0, 0
	for path, b := range broadcasts {
		st, ok := m.streams[path]
		if !ok {
			st = &streamState{
				stats:        offlineStats(path),
				lastSampleAt: now,
			}
			m.streams[path] = st
		}

		pub := b.Publisher()
		if pub == nil {
			st.stats = offlineStats(path)
			st.publisherId = ""
			st.lastInBytes = 0
			st.lastSampleAt = now
			continue
		}

		viewers := b.SubscriberCount()
		activeStreams++
		totalViewers += viewers

		st.stats.Status = StatusOnline
		st.stats.Viewers = viewers
		st.stats.Protocol = strings.ToUpper(pub.Protocol())
		if st.stats.Protocol == "" {
			st.stats.Protocol = "RTMP"
		}
		st.stats.Uptime = FormatUptime(now.Sub(pub.CreateTime()))

		in := pub.InBytes()
		if st.publisherId != pub.ID() || in < st.lastInBytes {
			// a new publisher restarts the byte counter
			st.publisherId = pub.ID()
			st.lastInBytes = 0
		}
		if elapsed := now.Sub(st.lastSampleAt).Seconds(); elapsed > 0 {
			kbps := int(math.Round(float64(in-st.lastInBytes) * 8 / elapsed / 1024))
			st.stats.BitrateKbps = kbps
			st.stats.Bitrate = formatBitrate(kbps)
			st.lastInBytes = in
			st.lastSampleAt = now
		}
	}

	m.server = ServerStats{
		TotalStreams:  len(broadcasts),
		ActiveStreams: activeStreams,
		TotalViewers:  totalViewers,
		ServerUptime:  FormatUptime(now.Sub(m.startTime)),
	}
	listeners := slices.Clone(m.listeners)
	dash := m.dashboardLocked()
	m.mu.Unlock()

	m.metrics.SetActiveStreams(activeStreams)
	m.metrics.SetViewers(totalViewers)
	for _, s := range dash.Streams {
		m.metrics.SetStreamBitrate(s.ID, s.BitrateKbps)
	}
	for _, fn := range listeners {
		fn(dash)
	}
}

func offlineStats(path string) StreamStats {
	name := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		name = path[i+1:]
	}
	return StreamStats{
		ID:       path,
		Name:     name,
		Bitrate:  formatBitrate(0),
		Status:   StatusOffline,
		Uptime:   FormatUptime(0),
		Protocol: "RTMP",
	}
}

func formatBitrate(kbps int) string {
	return strconv.Itoa(kbps) + " kbps"
}

func (m *Manager) ServerStats() ServerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.server
}

// StreamStats returns every sampled stream ordered by path.
func (m *Manager) StreamStats() []StreamStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streamStatsLocked()
}

func (m *Manager) streamStatsLocked() []StreamStats {
	out := make([]StreamStats, 0, len(m.streams))
	for _, st := range m.streams {
		out = append(out, st.stats)
	}
	slices.SortFunc(out, func(a, b StreamStats) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (m *Manager) StreamStatById(streamPath string) (StreamStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.streams[streamPath]
	if !ok {
		return StreamStats{}, false
	}
	return st.stats, true
}

func (m *Manager) Dashboard() Dashboard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dashboardLocked()
}

func (m *Manager) dashboardLocked() Dashboard {
	return Dashboard{Server: m.server, Streams: m.streamStatsLocked()}
}

// Reset drops per-stream history and restarts the uptime clock. The registry
// is left untouched.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTime = m.now()
	m.streams = make(map[string]*streamState)
	m.server = ServerStats{ServerUptime: FormatUptime(0)}
	m.metrics.ResetStreamBitrates()
}

// Destroy stops the sampling loop. It is safe to call more than once.
func (m *Manager) Destroy() {
	m.die.Do(func() {
		close(m.quit)
	})
	m.wg.Wait()
}
