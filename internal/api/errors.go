package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/groupmind/digestd/internal/core"
)

// ErrorResponse wraps a pipeline error for JSON serialization.
type ErrorResponse struct {
	Error *core.PipelineError `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// The status line is already out; nothing left to do.
		return
	}
}

// WriteError writes a pipeline error response with an explicit status.
func WriteError(w http.ResponseWriter, status int, err *core.PipelineError) {
	WriteJSON(w, status, ErrorResponse{Error: err})
}

// HandleError maps an error to the appropriate HTTP status and writes it.
// quota_exceeded additionally carries a Retry-After header.
func HandleError(w http.ResponseWriter, err error) {
	var pe *core.PipelineError
	if !errors.As(err, &pe) {
		WriteError(w, http.StatusInternalServerError, core.NewInternalError(err.Error()))
		return
	}

	status := http.StatusInternalServerError
	switch pe.Kind {
	case core.ErrKindValidation:
		status = http.StatusUnprocessableEntity
	case core.ErrKindInvalidRequest:
		status = http.StatusBadRequest
	case core.ErrKindNotFound:
		status = http.StatusNotFound
	case core.ErrKindConflict:
		status = http.StatusConflict
	case core.ErrKindQuotaExceeded:
		status = http.StatusTooManyRequests
		if pe.RetryAfter > 0 {
			secs := int(pe.RetryAfter.Round(time.Second).Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	case core.ErrKindStoreUnavailable, core.ErrKindTransientService:
		status = http.StatusServiceUnavailable
	}

	WriteError(w, status, pe)
}
