package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncBuffersDelivered(3)
		m.IncDeliveryErrors()
		m.IncSegments()
		m.SetActiveStreams(1)
		m.SetStreamBitrate("/live/cam", 100)
		m.ResetStreamBitrates()
	})

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollectorsExported(t *testing.T) {
	m := New()
	m.IncBuffersDelivered(3)
	m.SetActiveStreams(2)
	m.SetStreamBitrate("/live/cam", 512)

	body := scrape(t, m)
	assert.Contains(t, body, "media_buffers_delivered_total 3")
	assert.Contains(t, body, "media_active_streams 2")
	assert.Contains(t, body, `media_stream_bitrate_kbps{stream="/live/cam"} 512`)

	m.ResetStreamBitrates()
	assert.NotContains(t, scrape(t, m), "media_stream_bitrate_kbps{")
}

func TestRequestMiddlewareCountsErrors(t *testing.T) {
	m := New()
	h := m.RequestMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
		}
	}))
	for _, path := range []string{"/", "/missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m)
	assert.Contains(t, body, "media_http_requests_total 2")
	assert.Contains(t, body, "media_http_errors_total 1")
}
