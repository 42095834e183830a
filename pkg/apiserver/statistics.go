package apiserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kbats183/simple-media-server/pkg/statistics"
	"github.com/sirupsen/logrus"
)

type statisticsRouter struct {
	stats     *statistics.Manager
	feed      *dashboardFeed
	log       logrus.FieldLogger
	startTime time.Time
	auth      func(http.Handler) http.Handler
}

func (router *statisticsRouter) Routes(r chi.Router) {
	r.Use(Cors)
	r.Get("/server", router.getServer())
	r.Get("/streams", router.getStreams())
	r.Get("/streams/*", router.getStreamById())
	r.Get("/dashboard", router.getDashboard())
	r.With(router.auth).Post("/reset", router.reset())
	r.Get("/health", router.health())
	r.Get("/ws", router.feed.serve())
}

func (router *statisticsRouter) getServer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, router.stats.ServerStats())
	}
}

func (router *statisticsRouter) getStreams() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, router.stats.StreamStats())
	}
}

func (router *statisticsRouter) getStreamById() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamPath := "/" + chi.URLParam(r, "*")
		stat, ok := router.stats.StreamStatById(streamPath)
		if !ok {
			JSONError(w, "Stream not found", "Stream "+streamPath+" not found", http.StatusNotFound)
			return
		}
		writeData(w, http.StatusOK, stat)
	}
}

func (router *statisticsRouter) getDashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, router.stats.Dashboard())
	}
}

func (router *statisticsRouter) reset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		router.stats.Reset()
		router.log.Info("Statistics data reset by API request")
		writeJSON(w, http.StatusOK, Response{
			Success:   true,
			Message:   "Statistics reset successfully",
			Timestamp: nowMillis(),
		})
	}
}

func (router *statisticsRouter) health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Response
			Uptime float64 `json:"uptime"`
		}{
			Response: Response{Success: true, Message: "Statistics API is running", Timestamp: nowMillis()},
			Uptime:   time.Since(router.startTime).Seconds(),
		})
	}
}
