package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/models"
)

// CorrelationIDHeader carries a caller supplied correlation id. It is echoed
// on every response.
const CorrelationIDHeader = "X-Correlation-ID"

// DeviceCommands sends commands to connected devices.
type DeviceCommands interface {
	UnlockTool(ctx context.Context, deviceID models.DeviceID, toolID string, correlationID models.CorrelationID) error
	RestartDevice(ctx context.Context, deviceID models.DeviceID, correlationID models.CorrelationID) error
	UpdateFirmware(ctx context.Context, deviceID models.DeviceID, correlationID models.CorrelationID) error
}

type CardEnrollment interface {
	AddUserCardIdentity(ctx context.Context, deviceID models.DeviceID, userID uuid.UUID, correlationID models.CorrelationID) (string, error)
}

type DeviceConnections interface {
	IsConnected(deviceID models.DeviceID) bool
	ConnectedDevices() []models.DeviceID
}

// API holds the handlers of the admin endpoints.
type API struct {
	commands    DeviceCommands
	cards       CardEnrollment
	connections DeviceConnections
	logger      zerolog.Logger
}

func NewAPI(commands DeviceCommands, cards CardEnrollment, connections DeviceConnections, logger zerolog.Logger) *API {
	return &API{
		commands:    commands,
		cards:       cards,
		connections: connections,
		logger:      logger,
	}
}

type UnlockToolRequest struct {
	ToolID string `json:"toolId"`
}

type AddUserCardIdentityRequest struct {
	UserID string `json:"userId"`
}

type AddUserCardIdentityResponse struct {
	CardID string `json:"cardId"`
}

type ConnectionResponse struct {
	DeviceID  string `json:"deviceId"`
	Connected bool   `json:"connected"`
}

type ConnectedDevicesResponse struct {
	Devices []string `json:"devices"`
}

// UnlockTool handles POST /api/v1/device/{id}/unlock-tool
func (a *API) UnlockTool(w http.ResponseWriter, r *http.Request) {
	correlationID, deviceID, ok := a.deviceRequest(w, r)
	if !ok {
		return
	}

	var req UnlockToolRequest
	if !a.decode(w, r, &req, correlationID) {
		return
	}
	if _, err := uuid.Parse(req.ToolID); err != nil {
		writeError(w, a.logger, badRequest("Invalid tool id.", map[string]string{"toolId": req.ToolID}, correlationID))
		return
	}

	if err := a.commands.UnlockTool(r.Context(), deviceID, req.ToolID, correlationID); err != nil {
		writeError(w, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestartDevice handles POST /api/v1/device/{id}/restart
func (a *API) RestartDevice(w http.ResponseWriter, r *http.Request) {
	correlationID, deviceID, ok := a.deviceRequest(w, r)
	if !ok {
		return
	}
	if err := a.commands.RestartDevice(r.Context(), deviceID, correlationID); err != nil {
		writeError(w, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateFirmware handles POST /api/v1/device/{id}/update-firmware
func (a *API) UpdateFirmware(w http.ResponseWriter, r *http.Request) {
	correlationID, deviceID, ok := a.deviceRequest(w, r)
	if !ok {
		return
	}
	if err := a.commands.UpdateFirmware(r.Context(), deviceID, correlationID); err != nil {
		writeError(w, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddUserCardIdentity handles POST /api/v1/device/{id}/add-user-card-identity
func (a *API) AddUserCardIdentity(w http.ResponseWriter, r *http.Request) {
	correlationID, deviceID, ok := a.deviceRequest(w, r)
	if !ok {
		return
	}

	var req AddUserCardIdentityRequest
	if !a.decode(w, r, &req, correlationID) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, a.logger, badRequest("Invalid user id.", map[string]string{"userId": req.UserID}, correlationID))
		return
	}

	cardID, err := a.cards.AddUserCardIdentity(r.Context(), deviceID, userID, correlationID)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, AddUserCardIdentityResponse{CardID: cardID})
}

// Connection handles GET /api/v1/device/{id}/connection
func (a *API) Connection(w http.ResponseWriter, r *http.Request) {
	_, deviceID, ok := a.deviceRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, a.logger, http.StatusOK, ConnectionResponse{
		DeviceID:  deviceID.String(),
		Connected: a.connections.IsConnected(deviceID),
	})
}

// ConnectedDevices handles GET /api/v1/device/connected
func (a *API) ConnectedDevices(w http.ResponseWriter, r *http.Request) {
	ids := a.connections.ConnectedDevices()
	devices := make([]string, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, id.String())
	}
	writeJSON(w, a.logger, http.StatusOK, ConnectedDevicesResponse{Devices: devices})
}

// deviceRequest resolves the correlation id and the {id} path parameter.
func (a *API) deviceRequest(w http.ResponseWriter, r *http.Request) (models.CorrelationID, models.DeviceID, bool) {
	correlationID := correlationIDFrom(r)
	w.Header().Set(CorrelationIDHeader, correlationID.String())

	rawID := chi.URLParam(r, "id")
	deviceID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, a.logger, badRequest("Invalid device id.", map[string]string{"deviceId": rawID}, correlationID))
		return correlationID, uuid.Nil, false
	}
	return correlationID, deviceID, true
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any, correlationID models.CorrelationID) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		writeError(w, a.logger, badRequest("Invalid request payload: "+err.Error(), nil, correlationID))
		return false
	}
	return true
}

func correlationIDFrom(r *http.Request) models.CorrelationID {
	if id, err := uuid.Parse(r.Header.Get(CorrelationIDHeader)); err == nil && id != uuid.Nil {
		return id
	}
	return uuid.New()
}
