package apiserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type logFormatter struct {
	log logrus.FieldLogger
}

type logEntry struct {
	log logrus.FieldLogger
}

func (f *logFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &logEntry{log: f.log.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
		"remote":     r.RemoteAddr,
	})}
}

func (e *logEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	e.log.WithFields(logrus.Fields{
		"status":      status,
		"size":        bytes,
		"duration_ms": elapsed.Milliseconds(),
	}).Info("request")
}

func (e *logEntry) Panic(v interface{}, stack []byte) {
	e.log.WithField("stack", string(stack)).Errorf("request panic: %v", v)
}

func loggerMiddleware(log logrus.FieldLogger) func(next http.Handler) http.Handler {
	return middleware.RequestLogger(&logFormatter{log: log})
}
