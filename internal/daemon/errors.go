package daemon

import (
	"errors"
	"net/http"

	"reelforge/internal/api"
	"reelforge/internal/logging"
	"reelforge/internal/reanalysis"
	"reelforge/internal/script"
	"reelforge/internal/services"
)

// statusFor maps a service error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, reanalysis.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUpstream), errors.Is(err, services.ErrTimeout):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := api.ErrorResponse{
		Error:    err.Error(),
		Kind:     services.Kind(err),
		CanRetry: services.Retryable(err),
	}
	if errors.Is(err, reanalysis.ErrClosed) {
		body.Kind = "unavailable"
		body.CanRetry = true
	}
	if conflict, ok := script.AsConflict(err); ok {
		body.JobID = conflict.Job.JobID
		body.Status = string(conflict.Job.Status)
	}
	if status >= http.StatusInternalServerError {
		requestID, _ := services.RequestIDFromContext(r.Context())
		logging.ErrorWithContext(s.logger, "api request failed", "api_request_failed",
			logging.Error(err),
			logging.String(logging.FieldCorrelationID, requestID),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
		)
	}
	s.writeJSON(w, status, body)
}
