package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"lracoord/internal/coordinator"
)

// writeError maps a coordinator sentinel error to its HTTP status and
// writes the error text as the response body.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	writeText(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, coordinator.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrGone):
		return http.StatusGone
	case errors.Is(err, coordinator.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, coordinator.ErrInternal):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, s)
}
