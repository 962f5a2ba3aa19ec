package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/constants"
	"github.com/fabxaccess/device-gateway/internal/models"
	"github.com/fabxaccess/device-gateway/internal/utils"
	"github.com/fabxaccess/device-gateway/pkg/identity"
)

// DirectoryCommandHandler answers device commands from a DeviceDirectory.
type DirectoryCommandHandler struct {
	directory DeviceDirectory
	events    EventPublisher
	logger    zerolog.Logger
}

func NewDirectoryCommandHandler(directory DeviceDirectory, events EventPublisher, logger zerolog.Logger) *DirectoryCommandHandler {
	return &DirectoryCommandHandler{
		directory: directory,
		events:    events,
		logger:    logger,
	}
}

// HandleCommand dispatches command to its handler.
func (h *DirectoryCommandHandler) HandleCommand(ctx context.Context, actor models.DeviceActor, command models.DeviceToServerCommand) (models.DeviceResponse, error) {
	correlationID := uuid.New()
	logger := h.logger.With().
		Str("device_id", actor.DeviceID.String()).
		Str("command", command.TypeName()).
		Str("correlation_id", correlationID.String()).
		Logger()
	logger.Debug().Int64("command_id", int64(command.GetCommandID())).Msg("Handling command from device")

	switch c := command.(type) {
	case *models.GetConfiguration:
		return h.getConfiguration(actor, c, correlationID, logger)
	case *models.GetAuthorizedTools:
		return h.getAuthorizedTools(actor, c, correlationID)
	case *models.ValidateSecondFactor:
		return h.validateSecondFactor(c, correlationID)
	default:
		return nil, fmt.Errorf("unsupported command %s", command.TypeName())
	}
}

func (h *DirectoryCommandHandler) getConfiguration(actor models.DeviceActor, command *models.GetConfiguration, correlationID models.CorrelationID, logger zerolog.Logger) (models.DeviceResponse, error) {
	device, err := h.directory.GetDevice(actor.DeviceID)
	if err != nil {
		return nil, directoryError(err, map[string]string{"deviceId": actor.DeviceID.String()}, correlationID)
	}

	if command.ActualFirmwareVersion != "" {
		device, err = h.directory.RecordFirmwareVersion(actor.DeviceID, command.ActualFirmwareVersion)
		if err != nil {
			return nil, directoryError(err, map[string]string{"deviceId": actor.DeviceID.String()}, correlationID)
		}
		h.events.Publish(models.NewDomainEvent(constants.EventFirmwareVersionReported, actor.DeviceID, correlationID, map[string]string{
			"actualFirmwareVersion":  command.ActualFirmwareVersion,
			"desiredFirmwareVersion": device.DesiredFirmwareVersion,
			"updateAvailable":        strconv.FormatBool(firmwareUpdateAvailable(command.ActualFirmwareVersion, device.DesiredFirmwareVersion, logger)),
		}))
	}

	tools, err := h.directory.AttachedTools(actor.DeviceID)
	if err != nil {
		return nil, directoryError(err, map[string]string{"deviceId": actor.DeviceID.String()}, correlationID)
	}

	attached := make(map[int]models.ToolConfiguration, len(tools))
	for pin, tool := range tools {
		attached[pin] = models.ToolConfiguration{
			ID:          tool.ID.String(),
			Name:        tool.Name,
			Type:        models.ToolType(tool.Type),
			Requires2FA: tool.Requires2FA,
			Time:        tool.Time,
			IdleState:   models.IdleState(tool.IdleState),
		}
	}

	return &models.ConfigurationResponse{
		CommandID:        command.CommandID,
		Name:             device.Name,
		Background:       device.Background,
		BackupBackendURL: device.BackupBackendURL,
		AttachedTools:    attached,
	}, nil
}

func (h *DirectoryCommandHandler) getAuthorizedTools(actor models.DeviceActor, command *models.GetAuthorizedTools, correlationID models.CorrelationID) (models.DeviceResponse, error) {
	user, err := h.requireUser(command.PhoneNrIdentity, command.CardIdentity, correlationID)
	if err != nil {
		return nil, err
	}

	tools, err := h.directory.AttachedTools(actor.DeviceID)
	if err != nil {
		return nil, directoryError(err, map[string]string{"deviceId": actor.DeviceID.String()}, correlationID)
	}

	qualifications := utils.SliceToSet(user.Qualifications)
	seen := make(map[uuid.UUID]struct{}, len(tools))
	toolIDs := make([]string, 0, len(tools))
	for _, tool := range tools {
		if _, dup := seen[tool.ID]; dup || !tool.Enabled || !utils.ContainsAll(qualifications, tool.RequiredQualifications) {
			continue
		}
		seen[tool.ID] = struct{}{}
		toolIDs = append(toolIDs, tool.ID.String())
	}

	return &models.AuthorizedToolsResponse{
		CommandID: command.CommandID,
		ToolIDs:   toolIDs,
	}, nil
}

func (h *DirectoryCommandHandler) validateSecondFactor(command *models.ValidateSecondFactor, correlationID models.CorrelationID) (models.DeviceResponse, error) {
	user, err := h.requireUser(command.PhoneNrIdentity, command.CardIdentity, correlationID)
	if err != nil {
		return nil, err
	}

	if command.PinSecondIdentity == nil {
		return nil, models.NewDomainError(models.ErrInvalidSecondFactor, "Second Factor not provided.", nil, correlationID)
	}
	if err := h.directory.ValidatePin(user.ID, command.PinSecondIdentity.Pin); err != nil {
		return nil, directoryError(err, nil, correlationID)
	}

	return &models.ValidSecondFactorResponse{CommandID: command.CommandID}, nil
}

// requireUser resolves the user a device acts on behalf of.
func (h *DirectoryCommandHandler) requireUser(phoneNr *models.PhoneNrIdentity, card *models.CardIdentity, correlationID models.CorrelationID) (identity.User, error) {
	user, ok, err := h.directory.FindUser(userIdentity(phoneNr, card))
	if err != nil {
		return identity.User{}, directoryError(err, nil, correlationID)
	}
	if !ok {
		return identity.User{}, models.NewDomainError(models.ErrNotAuthenticated, "Required authentication not found.", nil, correlationID)
	}
	return user, nil
}

// firmwareUpdateAvailable reports whether desired is a newer version than
// actual. Versions that do not parse as semver never trigger an update.
func firmwareUpdateAvailable(actual, desired string, logger zerolog.Logger) bool {
	if desired == "" {
		return false
	}
	actualVersion, err := semver.NewVersion(actual)
	if err != nil {
		logger.Warn().Err(err).Str("version", actual).Msg("Device reported invalid firmware version")
		return false
	}
	desiredVersion, err := semver.NewVersion(desired)
	if err != nil {
		logger.Warn().Err(err).Str("version", desired).Msg("Invalid desired firmware version")
		return false
	}
	return desiredVersion.GreaterThan(actualVersion)
}
