package apiserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kbats183/simple-media-server/pkg/record"
	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorResponse represents json error structure
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeData(w http.ResponseWriter, code int, data interface{}) {
	writeJSON(w, code, Response{Success: true, Data: data, Timestamp: nowMillis()})
}

func JSONError(w http.ResponseWriter, error string, message string, code int) {
	writeJSON(w, code, ErrorResponse{Error: error, Message: message})
}

func handleErrors(log logrus.FieldLogger, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidStreamPath):
		JSONError(w, "Bad request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, registry.ErrStreamNotFound), errors.Is(err, record.ErrNotRecording):
		JSONError(w, "Not found", err.Error(), http.StatusNotFound)
	case errors.Is(err, registry.ErrConflict):
		JSONError(w, "Conflict", err.Error(), http.StatusConflict)
	case errors.Is(err, record.ErrDisabled):
		JSONError(w, "Recording disabled", err.Error(), http.StatusServiceUnavailable)
	default:
		log.WithError(err).Error("Request failed")
		JSONError(w, "Internal server error", err.Error(), http.StatusInternalServerError)
	}
}
