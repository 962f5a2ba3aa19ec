package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/constants"
	"github.com/fabxaccess/device-gateway/internal/models"
)

// CardWriter creates cards at a device.
type CardWriter interface {
	CreateCard(ctx context.Context, deviceID models.DeviceID, userName, cardSecret string, correlationID models.CorrelationID) (string, error)
}

// CardEnrollmentService writes a new card for a user at a device and adds
// it to the user's identities.
type CardEnrollmentService struct {
	cards     CardWriter
	directory DeviceDirectory
	events    EventPublisher
	logger    zerolog.Logger
}

func NewCardEnrollmentService(cards CardWriter, directory DeviceDirectory, events EventPublisher, logger zerolog.Logger) *CardEnrollmentService {
	return &CardEnrollmentService{
		cards:     cards,
		directory: directory,
		events:    events,
		logger:    logger,
	}
}

// AddUserCardIdentity returns the id of the card written at the device.
func (s *CardEnrollmentService) AddUserCardIdentity(ctx context.Context, deviceID models.DeviceID, userID uuid.UUID, correlationID models.CorrelationID) (string, error) {
	if _, err := s.directory.GetDevice(deviceID); err != nil {
		return "", directoryError(err, map[string]string{"deviceId": deviceID.String()}, correlationID)
	}
	user, err := s.directory.GetUser(userID)
	if err != nil {
		return "", directoryError(err, map[string]string{"userId": userID.String()}, correlationID)
	}

	cardSecret, err := GenerateCardSecret()
	if err != nil {
		return "", err
	}

	cardID, err := s.cards.CreateCard(ctx, deviceID, user.Name(), cardSecret, correlationID)
	if err != nil {
		return "", err
	}

	if err := s.directory.AddCardIdentity(userID, cardID, cardSecret); err != nil {
		s.logger.Error().
			Err(err).
			Str("device_id", deviceID.String()).
			Str("user_id", userID.String()).
			Str("card_id", cardID).
			Msg("Card was written at device but could not be stored")
		return "", directoryError(err, map[string]string{"userId": userID.String(), "cardId": cardID}, correlationID)
	}

	s.events.Publish(models.NewDomainEvent(constants.EventCardCreatedAtDevice, deviceID, correlationID, map[string]string{
		"userId": userID.String(),
		"cardId": cardID,
	}))
	return cardID, nil
}
