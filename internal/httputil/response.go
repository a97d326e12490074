package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// Writer encodes JSON replies and logs encoding failures.
type Writer struct {
	log zerolog.Logger
}

// NewWriter creates a Writer.
func NewWriter(log zerolog.Logger) Writer {
	return Writer{log: log}
}

// JSON writes data with the given status.
func (w Writer) JSON(rw http.ResponseWriter, status int, data any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	if err := json.NewEncoder(rw).Encode(data); err != nil {
		w.log.Error().Err(err).Msg("failed to encode json response")
	}
}

// OK writes a 200 reply.
func (w Writer) OK(rw http.ResponseWriter, data any) {
	w.JSON(rw, http.StatusOK, data)
}

// Error writes {"error": msg}.
func (w Writer) Error(rw http.ResponseWriter, status int, msg string) {
	w.JSON(rw, status, map[string]string{"error": msg})
}

// BadRequest writes a 400 reply.
func (w Writer) BadRequest(rw http.ResponseWriter, msg string) {
	w.Error(rw, http.StatusBadRequest, msg)
}
