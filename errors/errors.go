package httperrors

import (
	"encoding/json"
	"errors"
	"log/slog" // Use slog for logging errors internally
	"net/http"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/csvio"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/engine"
)

// ErrorResponse defines the standard JSON error structure.
type ErrorResponse struct {
	Error   string  `json:"error"`
	Message string  `json:"message"`
	Status  int     `json:"status"`
	Kind    string  `json:"kind,omitempty"` // Validation error kind, e.g. InvalidScope
	IDs     []int64 `json:"ids,omitempty"`  // Offending identifiers
}

// RespondWithError sends a JSON error response.
func RespondWithError(w http.ResponseWriter, logger *slog.Logger, status int, internalError error, userMessage string) {
	respond(w, logger, status, internalError, ErrorResponse{Message: userMessage})
}

func respond(w http.ResponseWriter, logger *slog.Logger, status int, internalError error, errResp ErrorResponse) {
	if internalError != nil && status >= http.StatusInternalServerError {
		logger.Error("API Error",
			slog.Int("status", status),
			slog.String("user_message", errResp.Message),
			slog.String("internal_error", internalError.Error()),
		)
	} else {
		logger.Warn("API Response Error",
			slog.Int("status", status),
			slog.String("user_message", errResp.Message),
		)
	}

	errResp.Error = http.StatusText(status)
	errResp.Status = status

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		logger.Error("Failed to encode error response", slog.String("encoding_error", err.Error()))
	}
}

// FromError maps an engine or import error to its HTTP status and writes it.
// Unknown errors become a 500 with a generic message.
func FromError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		notFound   *engine.NotFoundError
		validation *engine.ValidationError
		conflict   *engine.ConflictError
		format     *csvio.FormatError
	)
	switch {
	case errors.As(err, &notFound):
		respond(w, logger, http.StatusNotFound, err, ErrorResponse{Message: notFound.Error()})
	case errors.As(err, &validation):
		respond(w, logger, http.StatusBadRequest, err, ErrorResponse{
			Message: validation.Message,
			Kind:    string(validation.Kind),
			IDs:     validation.IDs,
		})
	case errors.As(err, &conflict):
		respond(w, logger, http.StatusConflict, err, ErrorResponse{Message: conflict.Error()})
	case errors.As(err, &format):
		respond(w, logger, http.StatusBadRequest, err, ErrorResponse{Message: format.Error()})
	default:
		InternalServerError(w, logger, err, "")
	}
}

// Convenience functions for common errors

func BadRequest(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	RespondWithError(w, logger, http.StatusBadRequest, err, message)
}

func NotFound(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	RespondWithError(w, logger, http.StatusNotFound, err, message)
}

func Unauthorized(w http.ResponseWriter, logger *slog.Logger, message string) {
	RespondWithError(w, logger, http.StatusUnauthorized, nil, message)
}

func InternalServerError(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	if message == "" {
		message = "An unexpected error occurred."
	}
	RespondWithError(w, logger, http.StatusInternalServerError, err, message)
}
