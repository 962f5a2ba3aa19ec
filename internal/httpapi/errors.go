package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/models"
)

var errBadRequest = errors.New("bad request")

// errorKind is the HTTP rendering of a domain error kind.
type errorKind struct {
	kind   error
	name   string
	status int
}

var errorKinds = []errorKind{
	{models.ErrDeviceNotConnected, "DeviceNotConnected", http.StatusServiceUnavailable},
	{models.ErrDeviceTimeout, "DeviceTimeout", http.StatusServiceUnavailable},
	{models.ErrDeviceCommunicationSerializationError, "DeviceCommunicationSerializationError", http.StatusServiceUnavailable},
	{models.ErrUnexpectedDeviceResponse, "UnexpectedDeviceResponse", http.StatusServiceUnavailable},
	{models.ErrNotAuthenticated, "NotAuthenticated", http.StatusUnauthorized},
	{models.ErrDeviceNotFound, "DeviceNotFound", http.StatusNotFound},
	{models.ErrDeviceNotFoundByIdentity, "DeviceNotFoundByIdentity", http.StatusNotFound},
	{models.ErrToolNotFound, "ToolNotFound", http.StatusNotFound},
	{models.ErrUserNotFound, "UserNotFound", http.StatusNotFound},
	{models.ErrUserNotFoundByIdentity, "UserNotFoundByIdentity", http.StatusNotFound},
	{models.ErrUserIsLocked, "UserIsLocked", http.StatusForbidden},
	{models.ErrInvalidSecondFactor, "InvalidSecondFactor", http.StatusForbidden},
	{models.ErrCardIDInUse, "CardIdInUse", http.StatusConflict},
	{errBadRequest, "BadRequest", http.StatusBadRequest},
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Type          string            `json:"type"`
	Message       string            `json:"message"`
	Parameters    map[string]string `json:"parameters"`
	CorrelationID *uuid.UUID        `json:"correlationId"`
}

func badRequest(message string, parameters map[string]string, correlationID models.CorrelationID) error {
	return models.NewDomainError(errBadRequest, message, parameters, correlationID)
}

// writeError renders err with the status of its kind. Errors without a known
// kind are logged and hidden behind a 500.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	body := ErrorBody{
		Type:       "Error",
		Message:    "Internal server error.",
		Parameters: map[string]string{},
	}
	status := http.StatusInternalServerError

	var domainErr *models.DomainError
	if errors.As(err, &domainErr) {
		body.Message = domainErr.Message
		body.Parameters = domainErr.Parameters
		body.CorrelationID = domainErr.CorrelationID
	}

	matched := false
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			body.Type = k.name
			status = k.status
			matched = true
			break
		}
	}
	switch {
	case matched:
		logger.Info().Err(err).Int("status", status).Msg("Request failed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		body.Type = "RequestCancelled"
		body.Message = err.Error()
		status = http.StatusServiceUnavailable
		logger.Info().Err(err).Msg("Request cancelled")
	default:
		logger.Error().Err(err).Msg("Unhandled error")
	}

	writeJSON(w, logger, status, body)
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}
