package apiserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kbats183/simple-media-server/pkg/events"
	"github.com/kbats183/simple-media-server/pkg/player"
	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/kbats183/simple-media-server/pkg/session"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// handleFlv plays /{app}/{name}.flv as an HTTP-FLV stream.
func handleFlv(reg registry.Registry, bus *events.Bus, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamPath := session.JoinPath(chi.URLParam(r, "app"), chi.URLParam(r, "name"))
		app, name, ok := session.SplitPath(streamPath)
		if !ok {
			handleErrors(log, w, errors.Wrapf(registry.ErrInvalidStreamPath, "%q", streamPath))
			return
		}
		b, err := reg.GetBroadcast(streamPath)
		if err != nil || b.Publisher() == nil {
			JSONError(w, "Stream not found", "Stream "+streamPath+" is not published", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "video/x-flv")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)

		p := player.NewSession(app, name, w, log)
		if err := p.Serve(r.Context(), reg, bus); err != nil {
			log.WithError(err).WithField("stream", streamPath).Info("Player connection ended")
		}
	}
}
