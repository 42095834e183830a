package apiserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kbats183/simple-media-server/pkg/record"
	"github.com/sirupsen/logrus"
)

type recordsRouter struct {
	records *record.Server
	log     logrus.FieldLogger
	auth    func(http.Handler) http.Handler
}

func (router *recordsRouter) Routes(r chi.Router) {
	r.Use(ContentTypeJson)
	r.Get("/", router.getRecords())
	r.With(router.auth).Post("/*", router.startRecord())
	r.With(router.auth).Delete("/*", router.stopRecord())
}

func (router *recordsRouter) getRecords() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, router.records.Infos())
	}
}

func (router *recordsRouter) startRecord() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamPath := "/" + chi.URLParam(r, "*")
		rs, err := router.records.StartRecord(streamPath)
		if err != nil {
			handleErrors(router.log, w, err)
			return
		}
		writeData(w, http.StatusCreated, rs.Info())
	}
}

func (router *recordsRouter) stopRecord() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamPath := "/" + chi.URLParam(r, "*")
		if err := router.records.StopRecord(streamPath); err != nil {
			handleErrors(router.log, w, err)
			return
		}
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "Stopped recording " + streamPath, Timestamp: nowMillis()})
	}
}
