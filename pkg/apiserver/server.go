package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kbats183/simple-media-server/pkg/events"
	"github.com/kbats183/simple-media-server/pkg/metrics"
	"github.com/kbats183/simple-media-server/pkg/record"
	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/kbats183/simple-media-server/pkg/statistics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Addr       string
	RecordPath string
	AuthUser   string
	AuthPass   string
}

type Deps struct {
	Registry registry.Registry
	Bus      *events.Bus
	Stats    *statistics.Manager
	Records  *record.Server
	Metrics  *metrics.Metrics
	Log      logrus.FieldLogger
}

type WebServer struct {
	config Config
	deps   Deps
	router *chi.Mux
	server *http.Server
	log    logrus.FieldLogger
}

func NewWebServer(config Config, deps Deps) *WebServer {
	log := deps.Log.WithField("component", "http")
	auth := BasicAuth(config.AuthUser, config.AuthPass)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(loggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(deps.Metrics.RequestMiddleware)

	statsRouter := &statisticsRouter{
		stats:     deps.Stats,
		feed:      newDashboardFeed(deps.Stats, log),
		log:       log,
		startTime: time.Now(),
		auth:      auth,
	}
	router.Route("/api/statistics", statsRouter.Routes)

	recRouter := &recordsRouter{records: deps.Records, log: log, auth: auth}
	router.Route("/api/records", recRouter.Routes)
	if deps.Records.Enabled() && config.RecordPath != "" {
		files := http.StripPrefix("/records/", http.FileServer(http.Dir(config.RecordPath)))
		router.Get("/records/*", files.ServeHTTP)
	}

	router.Handle("/metrics", deps.Metrics.Handler())
	router.Mount("/debug", middleware.Profiler())
	router.Get("/{app}/{name}.flv", handleFlv(deps.Registry, deps.Bus, log))

	return &WebServer{
		config: config,
		deps:   deps,
		router: router,
		server: &http.Server{Addr: config.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second},
		log:    log,
	}
}

func (a *WebServer) Handler() http.Handler {
	return a.router
}

func (a *WebServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := a.Stop(); err != nil {
			a.log.WithError(err).Error("Error stopping web server")
		}
	}()

	a.log.Infof("Starting web server on %s", a.config.Addr)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "web server")
	}
	return nil
}

func (a *WebServer) Stop() error {
	a.log.Info("Stopping web server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}
