package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/elizov/khpi-corporate-systems/pkg/orderclient"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, contracts.ErrorResponse{Error: message, Code: code})
}

// handleClientError maps order client failures onto HTTP statuses.
func handleClientError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, orderclient.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "order not found")
	case errors.Is(err, orderclient.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, orderclient.ErrUnavailable):
		logger.WarnContext(r.Context(), "orders service unavailable", slog.Any("error", err))
		respondError(w, http.StatusServiceUnavailable, "unavailable", "orders service unavailable")
	default:
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, out interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(out); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	if err := v.Struct(out); err != nil {
		respondJSON(w, http.StatusBadRequest, contracts.ErrorResponse{
			Error:   "validation failed",
			Code:    "invalid_argument",
			Details: err.Error(),
		})
		return false
	}
	return true
}
