package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, simplebanners.ErrEntryNotFound),
		errors.Is(err, simplebanners.ErrSlotNotFound),
		errors.Is(err, simplebanners.ErrPageNotFound),
		errors.Is(err, simplebanners.ErrPublicationNotFound),
		errors.Is(err, simplebanners.ErrSnapshotNotFound),
		errors.Is(err, simplebanners.ErrNoLivePublication):
		return http.StatusNotFound
	case errors.Is(err, simplebanners.ErrPublishConflict),
		errors.Is(err, simplebanners.ErrSlotInUse),
		errors.Is(err, simplebanners.ErrPageInUse),
		errors.Is(err, simplebanners.ErrDuplicateName),
		errors.Is(err, simplebanners.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, simplebanners.ErrInvalidEntry),
		errors.Is(err, simplebanners.ErrInvalidName),
		errors.Is(err, simplebanners.ErrInvalidActor):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and renders it with the mapped status. Internal
// errors are not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Retryable: simplebanners.IsRetryable(err)}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), msg, "path", r.URL.Path, "error", err)
		resp.Error = msg
	} else {
		slog.WarnContext(r.Context(), msg, "path", r.URL.Path, "status", status, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

// idParam parses the {id} URL parameter, answering 400 when it is not a uuid.
func idParam(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		slog.Warn("Invalid "+what+" ID", what+"_id", idStr, "error", err)
		badRequest(w, r, "Invalid "+what+" ID")
		return uuid.Nil, false
	}
	return id, true
}
