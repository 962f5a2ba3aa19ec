package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/constants"
	"github.com/fabxaccess/device-gateway/internal/models"
)

// maxCommandIDAttempts bounds re-minting when a command id is already pending.
const maxCommandIDAttempts = 8

// DeviceChannel is the side of DeviceWebsocketService that outbound commands use.
type DeviceChannel interface {
	SetupReceivingResponse(deviceID models.DeviceID, commandID models.CommandID, correlationID models.CorrelationID) error
	SendCommand(deviceID models.DeviceID, command models.ServerToDeviceCommand, correlationID models.CorrelationID) error
	ReceiveResponse(ctx context.Context, deviceID models.DeviceID, commandID models.CommandID, timeout time.Duration, correlationID models.CorrelationID) (models.DeviceResponse, error)
	AbandonResponse(commandID models.CommandID)
}

// DeviceCommandService sends server initiated commands to devices and waits
// for their typed responses.
type DeviceCommandService struct {
	channel             DeviceChannel
	receiveTimeout      time.Duration
	cardCreationTimeout time.Duration
	logger              zerolog.Logger
}

// NewDeviceCommandService creates a DeviceCommandService. Zero timeouts fall
// back to the defaults.
func NewDeviceCommandService(channel DeviceChannel, receiveTimeout, cardCreationTimeout time.Duration, logger zerolog.Logger) *DeviceCommandService {
	if receiveTimeout <= 0 {
		receiveTimeout = constants.DefaultReceiveTimeout
	}
	if cardCreationTimeout <= 0 {
		cardCreationTimeout = constants.DefaultCardCreationTimeout
	}
	return &DeviceCommandService{
		channel:             channel,
		receiveTimeout:      receiveTimeout,
		cardCreationTimeout: cardCreationTimeout,
		logger:              logger,
	}
}

// UnlockTool asks the device to unlock toolID.
func (s *DeviceCommandService) UnlockTool(ctx context.Context, deviceID models.DeviceID, toolID string, correlationID models.CorrelationID) error {
	_, err := exchange[*models.ToolUnlockResponse](ctx, s, deviceID, s.receiveTimeout, correlationID,
		func(commandID models.CommandID) models.ServerToDeviceCommand {
			return &models.UnlockTool{CommandID: commandID, ToolID: toolID}
		})
	return err
}

func (s *DeviceCommandService) RestartDevice(ctx context.Context, deviceID models.DeviceID, correlationID models.CorrelationID) error {
	_, err := exchange[*models.DeviceRestartResponse](ctx, s, deviceID, s.receiveTimeout, correlationID,
		func(commandID models.CommandID) models.ServerToDeviceCommand {
			return &models.RestartDevice{CommandID: commandID}
		})
	return err
}

// CreateCard asks the device to write a new card for userName and returns
// the id of the written card. Waits longer than other commands since the
// device needs a card to be presented.
func (s *DeviceCommandService) CreateCard(ctx context.Context, deviceID models.DeviceID, userName, cardSecret string, correlationID models.CorrelationID) (string, error) {
	response, err := exchange[*models.CardCreationResponse](ctx, s, deviceID, s.cardCreationTimeout, correlationID,
		func(commandID models.CommandID) models.ServerToDeviceCommand {
			return &models.CreateCard{CommandID: commandID, UserName: userName, CardSecret: cardSecret}
		})
	if err != nil {
		return "", err
	}
	return response.CardID, nil
}

func (s *DeviceCommandService) UpdateFirmware(ctx context.Context, deviceID models.DeviceID, correlationID models.CorrelationID) error {
	_, err := exchange[*models.UpdateFirmwareResponse](ctx, s, deviceID, s.receiveTimeout, correlationID,
		func(commandID models.CommandID) models.ServerToDeviceCommand {
			return &models.UpdateDeviceFirmware{CommandID: commandID}
		})
	return err
}

// exchange runs one command round trip: reserve a response slot, send the
// command, wait for the response and check that it is a T.
func exchange[T models.DeviceResponse](
	ctx context.Context,
	s *DeviceCommandService,
	deviceID models.DeviceID,
	timeout time.Duration,
	correlationID models.CorrelationID,
	build func(models.CommandID) models.ServerToDeviceCommand,
) (T, error) {
	var zero T

	commandID, err := s.reserveCommandID(deviceID, correlationID)
	if err != nil {
		return zero, err
	}

	command := build(commandID)
	logger := s.logger.With().
		Str("device_id", deviceID.String()).
		Int64("command_id", int64(commandID)).
		Str("correlation_id", correlationID.String()).
		Logger()

	if err := s.channel.SendCommand(deviceID, command, correlationID); err != nil {
		s.channel.AbandonResponse(commandID)
		logger.Warn().Err(err).Str("command", command.TypeName()).Msg("Failed to send command to device")
		return zero, err
	}

	response, err := s.channel.ReceiveResponse(ctx, deviceID, commandID, timeout, correlationID)
	if err != nil {
		return zero, err
	}

	typed, ok := response.(T)
	if !ok {
		logger.Warn().
			Str("command", command.TypeName()).
			Str("response", models.FormatMessage(response)).
			Msg("Unexpected response from device")
		return zero, models.NewUnexpectedDeviceResponseError(deviceID, response, correlationID)
	}

	logger.Debug().Str("command", command.TypeName()).Msg("Command acknowledged by device")
	return typed, nil
}

func (s *DeviceCommandService) reserveCommandID(deviceID models.DeviceID, correlationID models.CorrelationID) (models.CommandID, error) {
	for attempt := 0; attempt < maxCommandIDAttempts; attempt++ {
		commandID := models.NewCommandID()
		err := s.channel.SetupReceivingResponse(deviceID, commandID, correlationID)
		if err == nil {
			return commandID, nil
		}
		if !errors.Is(err, errCommandIDInUse) {
			return 0, err
		}
		s.logger.Debug().Int64("command_id", int64(commandID)).Msg("Command id in use, minting another")
	}
	return 0, fmt.Errorf("no free command id after %d attempts", maxCommandIDAttempts)
}

// GenerateCardSecret returns a new random card secret as upper-case hex.
func GenerateCardSecret() (string, error) {
	secret := make([]byte, constants.CardSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate card secret: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(secret)), nil
}
