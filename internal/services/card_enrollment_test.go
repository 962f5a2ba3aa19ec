package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fabxaccess/device-gateway/internal/constants"
	"github.com/fabxaccess/device-gateway/internal/mocks"
	"github.com/fabxaccess/device-gateway/internal/models"
	"github.com/fabxaccess/device-gateway/internal/services"
	"github.com/fabxaccess/device-gateway/pkg/identity"
)

func TestCardEnrollmentService_AddUserCardIdentity(t *testing.T) {
	f := newDirectoryFixture(t)
	cards := new(mocks.MockDeviceCommands)
	events := new(mocks.RecordingEventPublisher)
	correlationID := uuid.New()

	var secret string
	cards.On("CreateCard", mock.Anything, f.actor.DeviceID, "Ada Lovelace", mock.Anything, correlationID).
		Run(func(args mock.Arguments) { secret = args.String(3) }).
		Return("04A1B2C3D4E5F6", nil)

	s := services.NewCardEnrollmentService(cards, f.directory, events, zerolog.Nop())
	cardID, err := s.AddUserCardIdentity(context.Background(), f.actor.DeviceID, f.member.ID, correlationID)

	require.NoError(t, err)
	assert.Equal(t, "04A1B2C3D4E5F6", cardID)
	assert.Regexp(t, `^[0-9A-F]{64}$`, secret)

	user, ok, err := f.directory.FindUser(identity.UserIdentity{CardID: cardID, CardSecret: secret})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.member.ID, user.ID)

	published := events.Events()
	require.Len(t, published, 1)
	assert.Equal(t, constants.EventCardCreatedAtDevice, published[0].Type)
	assert.Equal(t, cardID, published[0].Attributes["cardId"])
	assert.Equal(t, &correlationID, published[0].CorrelationID)
}

func TestCardEnrollmentService_UnknownUserDoesNotTouchDevice(t *testing.T) {
	f := newDirectoryFixture(t)
	cards := new(mocks.MockDeviceCommands)

	s := services.NewCardEnrollmentService(cards, f.directory, new(mocks.RecordingEventPublisher), zerolog.Nop())
	_, err := s.AddUserCardIdentity(context.Background(), f.actor.DeviceID, uuid.New(), uuid.New())

	assert.ErrorIs(t, err, models.ErrUserNotFound)
	cards.AssertNotCalled(t, "CreateCard", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCardEnrollmentService_DeviceFailure(t *testing.T) {
	f := newDirectoryFixture(t)
	cards := new(mocks.MockDeviceCommands)
	events := new(mocks.RecordingEventPublisher)
	failure := models.NewDeviceTimeoutError(f.actor.DeviceID, uuid.Nil)
	cards.On("CreateCard", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", failure)

	s := services.NewCardEnrollmentService(cards, f.directory, events, zerolog.Nop())
	_, err := s.AddUserCardIdentity(context.Background(), f.actor.DeviceID, f.member.ID, uuid.New())

	assert.ErrorIs(t, err, models.ErrDeviceTimeout)
	assert.Empty(t, events.Events())
}

func TestCardEnrollmentService_CardIDInUse(t *testing.T) {
	directory := new(mocks.MockDeviceDirectory)
	cards := new(mocks.MockDeviceCommands)
	events := new(mocks.RecordingEventPublisher)
	deviceID := uuid.New()
	userID := uuid.New()

	directory.On("GetDevice", deviceID).Return(identity.Device{ID: deviceID}, nil)
	directory.On("GetUser", userID).Return(identity.User{ID: userID, FirstName: "Ada", LastName: "Lovelace"}, nil)
	directory.On("AddCardIdentity", userID, "11223344556677", mock.Anything).Return(identity.ErrCardIDInUse)
	cards.On("CreateCard", mock.Anything, deviceID, "Ada Lovelace", mock.Anything, mock.Anything).Return("11223344556677", nil)

	s := services.NewCardEnrollmentService(cards, directory, events, zerolog.Nop())
	_, err := s.AddUserCardIdentity(context.Background(), deviceID, userID, uuid.New())

	assert.ErrorIs(t, err, models.ErrCardIDInUse)
	assert.False(t, errors.Is(err, identity.ErrCardIDInUse))
	assert.Empty(t, events.Events())
}
