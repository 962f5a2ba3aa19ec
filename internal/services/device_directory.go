package services

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/models"
	"github.com/fabxaccess/device-gateway/pkg/identity"
)

// DeviceDirectory is the store of devices, tools and users backing the
// device handlers. Implemented by identity.Directory.
type DeviceDirectory interface {
	AuthenticateDevice(mac, secret string) (identity.Device, error)
	GetDevice(id uuid.UUID) (identity.Device, error)
	AttachedTools(deviceID uuid.UUID) (map[int]identity.Tool, error)
	RecordFirmwareVersion(deviceID uuid.UUID, version string) (identity.Device, error)
	GetTool(id uuid.UUID) (identity.Tool, error)
	GetUser(id uuid.UUID) (identity.User, error)
	FindUser(userIdentity identity.UserIdentity) (identity.User, bool, error)
	ValidatePin(userID uuid.UUID, pin string) error
	AddCardIdentity(userID uuid.UUID, cardID, cardSecret string) error
}

// DirectoryAuthenticator authenticates devices against a DeviceDirectory.
type DirectoryAuthenticator struct {
	directory DeviceDirectory
	logger    zerolog.Logger
}

func NewDirectoryAuthenticator(directory DeviceDirectory, logger zerolog.Logger) *DirectoryAuthenticator {
	return &DirectoryAuthenticator{directory: directory, logger: logger}
}

// AuthenticateDevice returns the actor of the device registered with the
// identity's mac, if the secret matches.
func (a *DirectoryAuthenticator) AuthenticateDevice(macSecret models.MacSecretIdentity) (models.DeviceActor, error) {
	device, err := a.directory.AuthenticateDevice(macSecret.Mac, macSecret.Secret)
	if err != nil {
		a.logger.Debug().Err(err).Str("mac", macSecret.Mac).Msg("Device authentication failed")
		return models.DeviceActor{}, directoryError(err, nil, uuid.Nil)
	}
	return models.DeviceActor{DeviceID: device.ID, Name: device.Name, Mac: device.Mac}, nil
}

// userIdentity converts the identities a device presented on behalf of a user.
func userIdentity(phoneNr *models.PhoneNrIdentity, card *models.CardIdentity) identity.UserIdentity {
	var id identity.UserIdentity
	if phoneNr != nil {
		id.PhoneNr = phoneNr.PhoneNr
	}
	if card != nil {
		id.CardID = card.CardID
		id.CardSecret = card.CardSecret
	}
	return id
}

// directoryError maps directory errors to domain errors.
func directoryError(err error, parameters map[string]string, correlationID models.CorrelationID) error {
	var kind error
	var message string
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		kind, message = models.ErrDeviceNotFoundByIdentity, "Not able to find device for given identity."
	case errors.Is(err, identity.ErrDeviceNotFound):
		kind, message = models.ErrDeviceNotFound, "Device not found."
	case errors.Is(err, identity.ErrToolNotFound):
		kind, message = models.ErrToolNotFound, "Tool not found."
	case errors.Is(err, identity.ErrUserNotFound):
		kind, message = models.ErrUserNotFound, "User not found."
	case errors.Is(err, identity.ErrUserNotFoundByIdentity):
		kind, message = models.ErrUserNotFoundByIdentity, "Not able to find user for given identity."
	case errors.Is(err, identity.ErrUserLocked):
		kind, message = models.ErrUserIsLocked, "User is locked."
	case errors.Is(err, identity.ErrIdentityMismatch):
		kind, message = models.ErrNotAuthenticated, "Required authentication not found."
	case errors.Is(err, identity.ErrInvalidSecondFactor):
		kind, message = models.ErrInvalidSecondFactor, "Invalid second factor provided."
	case errors.Is(err, identity.ErrCardIDInUse):
		kind, message = models.ErrCardIDInUse, "Card id is already in use."
	default:
		return err
	}
	return models.NewDomainError(kind, message, parameters, correlationID)
}
