package services_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fabxaccess/device-gateway/internal/constants"
	"github.com/fabxaccess/device-gateway/internal/mocks"
	"github.com/fabxaccess/device-gateway/internal/models"
	"github.com/fabxaccess/device-gateway/internal/services"
	"github.com/fabxaccess/device-gateway/pkg/identity"
)

type directoryFixture struct {
	directory *identity.Directory
	actor     models.DeviceActor
	laser     identity.Tool
	drill     identity.Tool
	disabled  identity.Tool
	member    identity.User
}

func hash(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newDirectoryFixture(t *testing.T) directoryFixture {
	t.Helper()

	f := directoryFixture{
		laser:    identity.Tool{ID: uuid.New(), Name: "Laser", Type: "UNLOCK", Requires2FA: true, Time: 300, IdleState: "IDLE_HIGH", Enabled: true, RequiredQualifications: []string{"laser"}},
		drill:    identity.Tool{ID: uuid.New(), Name: "Drill", Type: "KEEP", Time: 200, IdleState: "IDLE_LOW", Enabled: true},
		disabled: identity.Tool{ID: uuid.New(), Name: "Broken saw", Type: "UNLOCK", Time: 100, IdleState: "IDLE_LOW"},
	}
	f.member = identity.User{
		ID:             uuid.New(),
		FirstName:      "Ada",
		LastName:       "Lovelace",
		PhoneNrs:       []string{"+49123"},
		Cards:          []identity.Card{{CardID: "11223344556677", SecretHash: hash(t, "CARDSECRET")}},
		PinHash:        hash(t, "1234"),
		Qualifications: []string{"laser"},
	}
	device := identity.Device{
		ID:                     uuid.New(),
		Name:                   "Workshop terminal",
		Mac:                    testMac,
		Background:             "https://example.com/bg.bmp",
		BackupBackendURL:       "https://backup.example.com",
		DesiredFirmwareVersion: "1.2.0",
		AttachedTools:          map[int]uuid.UUID{0: f.laser.ID, 1: f.drill.ID, 2: f.disabled.ID},
	}
	f.directory = identity.NewDirectoryFromData(identity.Data{
		Devices: []identity.Device{device},
		Tools:   []identity.Tool{f.laser, f.drill, f.disabled},
		Users: []identity.User{
			f.member,
			{ID: uuid.New(), FirstName: "Locked", LastName: "Out", PhoneNrs: []string{"+49999"}, Locked: true},
			{ID: uuid.New(), FirstName: "Grace", LastName: "Hopper", PhoneNrs: []string{"+49555"}},
		},
	})
	f.actor = models.DeviceActor{DeviceID: device.ID, Name: device.Name, Mac: device.Mac}
	return f
}

func TestDirectoryCommandHandler_GetConfiguration(t *testing.T) {
	f := newDirectoryFixture(t)
	events := new(mocks.RecordingEventPublisher)
	handler := services.NewDirectoryCommandHandler(f.directory, events, zerolog.Nop())

	response, err := handler.HandleCommand(context.Background(), f.actor, &models.GetConfiguration{CommandID: 4, ActualFirmwareVersion: "1.1.0"})

	require.NoError(t, err)
	assert.Equal(t, &models.ConfigurationResponse{
		CommandID:        4,
		Name:             "Workshop terminal",
		Background:       "https://example.com/bg.bmp",
		BackupBackendURL: "https://backup.example.com",
		AttachedTools: map[int]models.ToolConfiguration{
			0: {ID: f.laser.ID.String(), Name: "Laser", Type: models.ToolTypeUnlock, Requires2FA: true, Time: 300, IdleState: models.IdleStateHigh},
			1: {ID: f.drill.ID.String(), Name: "Drill", Type: models.ToolTypeKeep, Time: 200, IdleState: models.IdleStateLow},
			2: {ID: f.disabled.ID.String(), Name: "Broken saw", Type: models.ToolTypeUnlock, Time: 100, IdleState: models.IdleStateLow},
		},
	}, response)

	device, err := f.directory.GetDevice(f.actor.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", device.ActualFirmwareVersion)

	published := events.Events()
	require.Len(t, published, 1)
	assert.Equal(t, constants.EventFirmwareVersionReported, published[0].Type)
	assert.Equal(t, "true", published[0].Attributes["updateAvailable"])
}

func TestDirectoryCommandHandler_GetConfigurationUpToDateFirmware(t *testing.T) {
	f := newDirectoryFixture(t)
	events := new(mocks.RecordingEventPublisher)
	handler := services.NewDirectoryCommandHandler(f.directory, events, zerolog.Nop())

	_, err := handler.HandleCommand(context.Background(), f.actor, &models.GetConfiguration{CommandID: 4, ActualFirmwareVersion: "v1.2.0"})

	require.NoError(t, err)
	require.Len(t, events.Events(), 1)
	assert.Equal(t, "false", events.Events()[0].Attributes["updateAvailable"])
}

func TestDirectoryCommandHandler_GetConfigurationUnknownDevice(t *testing.T) {
	f := newDirectoryFixture(t)
	handler := services.NewDirectoryCommandHandler(f.directory, new(mocks.RecordingEventPublisher), zerolog.Nop())

	_, err := handler.HandleCommand(context.Background(), models.DeviceActor{DeviceID: uuid.New()}, &models.GetConfiguration{CommandID: 1})

	assert.ErrorIs(t, err, models.ErrDeviceNotFound)
}

func TestDirectoryCommandHandler_GetAuthorizedTools(t *testing.T) {
	f := newDirectoryFixture(t)
	handler := services.NewDirectoryCommandHandler(f.directory, new(mocks.RecordingEventPublisher), zerolog.Nop())

	response, err := handler.HandleCommand(context.Background(), f.actor, &models.GetAuthorizedTools{
		CommandID:    9,
		CardIdentity: &models.CardIdentity{CardID: "11223344556677", CardSecret: "CARDSECRET"},
	})

	require.NoError(t, err)
	authorized, ok := response.(*models.AuthorizedToolsResponse)
	require.True(t, ok)
	assert.Equal(t, models.CommandID(9), authorized.CommandID)
	assert.ElementsMatch(t, []string{f.laser.ID.String(), f.drill.ID.String()}, authorized.ToolIDs)
}

func TestDirectoryCommandHandler_GetAuthorizedToolsErrors(t *testing.T) {
	f := newDirectoryFixture(t)
	handler := services.NewDirectoryCommandHandler(f.directory, new(mocks.RecordingEventPublisher), zerolog.Nop())

	tests := []struct {
		name    string
		command *models.GetAuthorizedTools
		kind    error
	}{
		{"no identity", &models.GetAuthorizedTools{CommandID: 1}, models.ErrNotAuthenticated},
		{"wrong card secret", &models.GetAuthorizedTools{CommandID: 1, CardIdentity: &models.CardIdentity{CardID: "11223344556677", CardSecret: "WRONG"}}, models.ErrUserNotFoundByIdentity},
		{"unknown phone", &models.GetAuthorizedTools{CommandID: 1, PhoneNrIdentity: &models.PhoneNrIdentity{PhoneNr: "+1"}}, models.ErrUserNotFoundByIdentity},
		{"locked user", &models.GetAuthorizedTools{CommandID: 1, PhoneNrIdentity: &models.PhoneNrIdentity{PhoneNr: "+49999"}}, models.ErrUserIsLocked},
		{"identities of different users", &models.GetAuthorizedTools{
			CommandID:       1,
			PhoneNrIdentity: &models.PhoneNrIdentity{PhoneNr: "+49555"},
			CardIdentity:    &models.CardIdentity{CardID: "11223344556677", CardSecret: "CARDSECRET"},
		}, models.ErrNotAuthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler.HandleCommand(context.Background(), f.actor, tt.command)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestDirectoryCommandHandler_ValidateSecondFactor(t *testing.T) {
	f := newDirectoryFixture(t)
	handler := services.NewDirectoryCommandHandler(f.directory, new(mocks.RecordingEventPublisher), zerolog.Nop())
	phone := &models.PhoneNrIdentity{PhoneNr: "+49123"}

	response, err := handler.HandleCommand(context.Background(), f.actor, &models.ValidateSecondFactor{
		CommandID:         2,
		PhoneNrIdentity:   phone,
		PinSecondIdentity: &models.PinIdentityDetails{Pin: "1234"},
	})
	require.NoError(t, err)
	assert.Equal(t, &models.ValidSecondFactorResponse{CommandID: 2}, response)

	_, err = handler.HandleCommand(context.Background(), f.actor, &models.ValidateSecondFactor{
		CommandID:         3,
		PhoneNrIdentity:   phone,
		PinSecondIdentity: &models.PinIdentityDetails{Pin: "0000"},
	})
	assert.ErrorIs(t, err, models.ErrInvalidSecondFactor)

	_, err = handler.HandleCommand(context.Background(), f.actor, &models.ValidateSecondFactor{CommandID: 4, PhoneNrIdentity: phone})
	require.ErrorIs(t, err, models.ErrInvalidSecondFactor)
	assert.Equal(t, "Second Factor not provided.", err.Error())
}

func TestDirectoryNotificationHandler_ToolUnlocked(t *testing.T) {
	f := newDirectoryFixture(t)
	events := new(mocks.RecordingEventPublisher)
	handler := services.NewDirectoryNotificationHandler(f.directory, events, zerolog.Nop())

	err := handler.HandleNotification(context.Background(), f.actor, &models.ToolUnlockedNotification{
		ToolID:          f.laser.ID.String(),
		PhoneNrIdentity: &models.PhoneNrIdentity{PhoneNr: "+49123"},
	})

	require.NoError(t, err)
	published := events.Events()
	require.Len(t, published, 1)
	assert.Equal(t, constants.EventToolUnlocked, published[0].Type)
	assert.Equal(t, f.actor.DeviceID, published[0].DeviceID)
	assert.Equal(t, f.laser.ID.String(), published[0].Attributes["toolId"])
	assert.Equal(t, f.member.ID.String(), published[0].Attributes["userId"])
	assert.NotNil(t, published[0].CorrelationID)
}

func TestDirectoryNotificationHandler_UnknownTool(t *testing.T) {
	f := newDirectoryFixture(t)
	events := new(mocks.RecordingEventPublisher)
	handler := services.NewDirectoryNotificationHandler(f.directory, events, zerolog.Nop())

	err := handler.HandleNotification(context.Background(), f.actor, &models.ToolUnlockedNotification{ToolID: "not-a-tool"})
	assert.ErrorIs(t, err, models.ErrToolNotFound)

	err = handler.HandleNotification(context.Background(), f.actor, &models.ToolUnlockedNotification{ToolID: uuid.NewString()})
	assert.ErrorIs(t, err, models.ErrToolNotFound)

	assert.Empty(t, events.Events())
}

func TestDirectoryAuthenticator(t *testing.T) {
	device := identity.Device{ID: uuid.New(), Name: "Workshop terminal", Mac: testMac, SecretHash: hash(t, testSecret)}
	authenticator := services.NewDirectoryAuthenticator(identity.NewDirectoryFromData(identity.Data{Devices: []identity.Device{device}}), zerolog.Nop())

	actor, err := authenticator.AuthenticateDevice(models.MacSecretIdentity{Mac: testMac, Secret: testSecret})
	require.NoError(t, err)
	assert.Equal(t, models.DeviceActor{DeviceID: device.ID, Name: device.Name, Mac: testMac}, actor)

	_, err = authenticator.AuthenticateDevice(models.MacSecretIdentity{Mac: testMac, Secret: "00000000000000000000000000000000"})
	assert.ErrorIs(t, err, models.ErrDeviceNotFoundByIdentity)
}
