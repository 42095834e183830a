package apiserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kbats183/simple-media-server/pkg/events"
	"github.com/kbats183/simple-media-server/pkg/metrics"
	"github.com/kbats183/simple-media-server/pkg/record"
	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/kbats183/simple-media-server/pkg/session"
	"github.com/kbats183/simple-media-server/pkg/statistics"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publisher struct {
	*session.Base
}

func (p *publisher) SendBuffer([]byte) error { return nil }

type testEnv struct {
	reg     registry.Registry
	bus     *events.Bus
	stats   *statistics.Manager
	records *record.Server
	web     *WebServer
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	log, _ := test.NewNullLogger()
	bus := events.NewBus()
	met := metrics.New()
	reg := registry.NewRegistry(bus, met, log)
	stats := statistics.NewManager(reg, log, statistics.WithMetrics(met))
	if cfg.RecordPath == "" {
		cfg.RecordPath = t.TempDir()
	}
	records := record.NewServer(record.Options{Path: cfg.RecordPath}, reg, bus, met, log)
	t.Cleanup(func() {
		_ = records.Close()
		stats.Destroy()
	})
	web := NewWebServer(cfg, Deps{
		Registry: reg,
		Bus:      bus,
		Stats:    stats,
		Records:  records,
		Metrics:  met,
		Log:      log,
	})
	return &testEnv{reg: reg, bus: bus, stats: stats, records: records, web: web}
}

func (e *testEnv) publish(t *testing.T, app, name string) *publisher {
	t.Helper()
	p := &publisher{Base: session.NewBase(session.KindPublisher, "rtmp", app, name)}
	e.reg.RegisterSession(p)
	require.NoError(t, e.reg.GetOrCreateBroadcast(p.StreamPath()).AttachPublisher(p))
	return p
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.web.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServerStats(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.publish(t, "live", "cam")
	env.stats.SampleOnce()

	rec := env.do(http.MethodGet, "/api/statistics/server")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.EqualValues(t, 1, data["totalStreams"])
	assert.EqualValues(t, 1, data["activeStreams"])
	assert.Equal(t, "00:00:00", data["serverUptime"])
}

func TestStreamStats(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.publish(t, "live", "cam")
	env.stats.SampleOnce()

	rec := env.do(http.MethodGet, "/api/statistics/streams")
	require.Equal(t, http.StatusOK, rec.Code)
	streams := decode(t, rec)["data"].([]interface{})
	require.Len(t, streams, 1)
	assert.Equal(t, "/live/cam", streams[0].(map[string]interface{})["id"])

	rec = env.do(http.MethodGet, "/api/statistics/streams/live/cam")
	require.Equal(t, http.StatusOK, rec.Code)
	stream := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "cam", stream["name"])
	assert.Equal(t, statistics.StatusOnline, stream["status"])
	assert.Equal(t, "RTMP", stream["protocol"])
}

func TestStreamStatsNotFound(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodGet, "/api/statistics/streams/live/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Stream not found", body["error"])
}

func TestResetRequiresAuth(t *testing.T) {
	env := newTestEnv(t, Config{AuthUser: "admin", AuthPass: "secret"})
	env.publish(t, "live", "cam")
	env.stats.SampleOnce()
	require.Len(t, env.stats.StreamStats(), 1)

	rec := env.do(http.MethodPost, "/api/statistics/reset")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Len(t, env.stats.StreamStats(), 1)

	req := httptest.NewRequest(http.MethodPost, "/api/statistics/reset", nil)
	req.SetBasicAuth("admin", "secret")
	rr := httptest.NewRecorder()
	env.web.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Statistics reset successfully", decode(t, rr)["message"])
	assert.Empty(t, env.stats.StreamStats())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodGet, "/api/statistics/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body, "uptime")
	assert.Contains(t, body, "timestamp")
}

func TestCorsPreflight(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodOptions, "/api/statistics/server")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecordsLifecycle(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.publish(t, "live", "cam")

	rec := env.do(http.MethodPost, "/api/records/live/cam")
	require.Equal(t, http.StatusCreated, rec.Code)
	info := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "/live/cam", info["streamPath"])
	assert.Equal(t, "recording", info["state"])

	rec = env.do(http.MethodPost, "/api/records/live/cam")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodGet, "/api/records")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 1)

	rec = env.do(http.MethodDelete, "/api/records/live/cam")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodDelete, "/api/records/live/cam")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlayUnknownStream(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodGet, "/live/nobody.flv")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Stream not found", decode(t, rec)["error"])
}

func TestPlayStreamsFlv(t *testing.T) {
	env := newTestEnv(t, Config{})
	p := env.publish(t, "live", "cam")
	b, err := env.reg.GetBroadcast("/live/cam")
	require.NoError(t, err)
	b.SetHeader([]byte("FLV"))

	srv := httptest.NewServer(env.web.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/live/cam.flv")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/x-flv", resp.Header.Get("Content-Type"))

	head := make([]byte, 3)
	_, err = io.ReadFull(resp.Body, head)
	require.NoError(t, err)
	assert.Equal(t, "FLV", string(head))

	b.Deliver([]byte("tag"))
	tag := make([]byte, 3)
	_, err = io.ReadFull(resp.Body, tag)
	require.NoError(t, err)
	assert.Equal(t, "tag", string(tag))

	b.DetachPublisher(p)
	rest, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.do(http.MethodGet, "/api/statistics/server")

	rec := env.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "media_http_requests_total")
}

func TestInvalidStreamPathIsBadRequest(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodPost, "/api/records/../../escaped")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Bad request", decode(t, rec)["error"])

	rec = env.do(http.MethodPost, "/api/records/live/./cam")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.records.ActiveRecords())

	rec = env.do(http.MethodPost, "/api/records/live")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
