package metrics

import (
	"bufio"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the media server. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry           *prometheus.Registry
	buffersDelivered   prometheus.Counter
	deliveryErrors     prometheus.Counter
	segmentsTotal      prometheus.Counter
	recordingsStarted  prometheus.Counter
	recordingsFinished prometheus.Counter
	activeStreams      prometheus.Gauge
	viewers            prometheus.Gauge
	streamBitrate      *prometheus.GaugeVec
	httpRequestsTotal  prometheus.Counter
	httpErrorsTotal    prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		buffersDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "media_buffers_delivered_total",
			Help: "Buffers handed to subscribers by broadcast fan-out",
		}),
		deliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "media_delivery_errors_total",
			Help: "Subscriber writes that failed during fan-out",
		}),
		segmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "media_record_segments_total",
			Help: "Record segment files opened",
		}),
		recordingsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "media_recordings_started_total",
			Help: "Recording sessions started",
		}),
		recordingsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "media_recordings_finished_total",
			Help: "Recording sessions stopped",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "media_active_streams",
			Help: "Streams with an attached publisher at the last sample",
		}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "media_viewers",
			Help: "Subscribers of active streams at the last sample",
		}),
		streamBitrate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "media_stream_bitrate_kbps",
			Help: "Ingest bitrate per stream at the last sample",
		}, []string{"stream"}),
		httpRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "media_http_requests_total",
			Help: "HTTP requests served",
		}),
		httpErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "media_http_errors_total",
			Help: "HTTP responses with status >= 400",
		}),
	}
	m.registry.MustRegister(
		m.buffersDelivered,
		m.deliveryErrors,
		m.segmentsTotal,
		m.recordingsStarted,
		m.recordingsFinished,
		m.activeStreams,
		m.viewers,
		m.streamBitrate,
		m.httpRequestsTotal,
		m.httpErrorsTotal,
	)
	return m
}

func (m *Metrics) IncBuffersDelivered(n int) {
	if m != nil {
		m.buffersDelivered.Add(float64(n))
	}
}

func (m *Metrics) IncDeliveryErrors() {
	if m != nil {
		m.deliveryErrors.Inc()
	}
}

func (m *Metrics) IncSegments() {
	if m != nil {
		m.segmentsTotal.Inc()
	}
}

func (m *Metrics) IncRecordingsStarted() {
	if m != nil {
		m.recordingsStarted.Inc()
	}
}

func (m *Metrics) IncRecordingsFinished() {
	if m != nil {
		m.recordingsFinished.Inc()
	}
}

func (m *Metrics) SetActiveStreams(n int) {
	if m != nil {
		m.activeStreams.Set(float64(n))
	}
}

func (m *Metrics) SetViewers(n int) {
	if m != nil {
		m.viewers.Set(float64(n))
	}
}

func (m *Metrics) SetStreamBitrate(stream string, kbps int) {
	if m != nil {
		m.streamBitrate.WithLabelValues(stream).Set(float64(kbps))
	}
}

// ResetStreamBitrates drops every per-stream series.
func (m *Metrics) ResetStreamBitrates() {
	if m != nil {
		m.streamBitrate.Reset()
	}
}

// Handler serves the metrics registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RequestMiddleware counts requests and error responses.
func (m *Metrics) RequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrap := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrap, r)
		if m == nil {
			return
		}
		m.httpRequestsTotal.Inc()
		if wrap.status >= 400 {
			m.httpErrorsTotal.Inc()
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
