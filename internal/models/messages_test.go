package models

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_UsesStableWireDiscriminant(t *testing.T) {
	text, err := Encode(&UnlockTool{CommandID: 42, ToolID: "a5e2b0d2-0b7b-4bde-9b6e-0a1f2d3c4b5a"})

	require.NoError(t, err)
	assert.Equal(t,
		`{"type":"cloud.fabX.fabXaccess.device.ws.UnlockTool","commandId":42,"toolId":"a5e2b0d2-0b7b-4bde-9b6e-0a1f2d3c4b5a"}`,
		text,
	)
}

func TestEncode_ErrorResponse(t *testing.T) {
	correlationID := uuid.MustParse("7c0f0a1e-3a59-4f0e-9d6b-6b1f1a2c3d4e")

	text, err := Encode(&ErrorResponse{
		CommandID:     7,
		Message:       "boom",
		Parameters:    map[string]string{"deviceId": "x"},
		CorrelationID: &correlationID,
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "cloud.fabX.fabXaccess.device.ws.ErrorResponse",
		"commandId": 7,
		"message": "boom",
		"parameters": {"deviceId": "x"},
		"correlationId": "7c0f0a1e-3a59-4f0e-9d6b-6b1f1a2c3d4e"
	}`, text)
}

func TestRoundTrip(t *testing.T) {
	correlationID := uuid.New()

	deviceToServer := []DeviceToServerCommand{
		&GetConfiguration{CommandID: 1, ActualFirmwareVersion: "1.2.3"},
		&GetAuthorizedTools{CommandID: 2, CardIdentity: &CardIdentity{CardID: "11223344556677", CardSecret: "ABCD"}},
		&ValidateSecondFactor{CommandID: 3, PhoneNrIdentity: &PhoneNrIdentity{PhoneNr: "+49123"}, PinSecondIdentity: &PinIdentityDetails{Pin: "1234"}},
	}
	for _, original := range deviceToServer {
		text, err := Encode(original)
		require.NoError(t, err)
		decoded, err := DecodeDeviceToServerCommand(text)
		require.NoError(t, err, text)
		assert.Equal(t, original, decoded)
	}

	serverToDevice := []ServerToDeviceCommand{
		&UnlockTool{CommandID: 4, ToolID: "tool"},
		&RestartDevice{CommandID: 5},
		&CreateCard{CommandID: 6, UserName: "Ada Lovelace", CardSecret: "ABCDEF"},
		&UpdateDeviceFirmware{CommandID: 7},
	}
	for _, original := range serverToDevice {
		text, err := Encode(original)
		require.NoError(t, err)
		decoded, err := DecodeServerToDeviceCommand(text)
		require.NoError(t, err, text)
		assert.Equal(t, original, decoded)
	}

	responses := []DeviceResponse{
		&ConfigurationResponse{
			CommandID:        8,
			Name:             "Workshop",
			Background:       "bg",
			BackupBackendURL: "https://backup",
			AttachedTools: map[int]ToolConfiguration{
				1: {ID: "t1", Name: "Laser", Type: ToolTypeUnlock, Requires2FA: true, Time: 300, IdleState: IdleStateHigh},
			},
		},
		&AuthorizedToolsResponse{CommandID: 9, ToolIDs: []string{"t1", "t2"}},
		&ValidSecondFactorResponse{CommandID: 10},
		&ToolUnlockResponse{CommandID: 11},
		&DeviceRestartResponse{CommandID: 12},
		&CardCreationResponse{CommandID: 13, CardID: "11223344556677"},
		&UpdateFirmwareResponse{CommandID: 14},
		&ErrorResponse{CommandID: 15, Message: "failed", Parameters: map[string]string{"a": "b"}, CorrelationID: &correlationID},
	}
	for _, original := range responses {
		text, err := Encode(original)
		require.NoError(t, err)
		decoded, err := DecodeDeviceResponse(text)
		require.NoError(t, err, text)
		assert.Equal(t, original, decoded)
	}

	notification := &ToolUnlockedNotification{ToolID: "t1", CardIdentity: &CardIdentity{CardID: "c", CardSecret: "s"}}
	text, err := Encode(notification)
	require.NoError(t, err)
	decoded, err := DecodeDeviceToServerNotification(text)
	require.NoError(t, err)
	assert.Equal(t, notification, decoded)
}

func TestDecode_FamiliesDoNotOverlap(t *testing.T) {
	text, err := Encode(&ToolUnlockResponse{CommandID: 1})
	require.NoError(t, err)

	_, err = DecodeDeviceToServerCommand(text)
	assert.ErrorIs(t, err, ErrDeviceCommunicationSerializationError)
	_, err = DecodeDeviceToServerNotification(text)
	assert.ErrorIs(t, err, ErrDeviceCommunicationSerializationError)

	response, err := DecodeDeviceResponse(text)
	require.NoError(t, err)
	assert.Equal(t, &ToolUnlockResponse{CommandID: 1}, response)
}

func TestDecode_Failures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", `connected to fabX`},
		{"not an object", `[1,2]`},
		{"missing type", `{"commandId":1}`},
		{"type not a string", `{"type":1,"commandId":1}`},
		{"unknown prefix", `{"type":"UnlockTool","commandId":1,"toolId":"x"}`},
		{"unknown variant", `{"type":"cloud.fabX.fabXaccess.device.ws.Nope","commandId":1}`},
		{"missing commandId", `{"type":"cloud.fabX.fabXaccess.device.ws.UnlockTool","toolId":"x"}`},
		{"null commandId", `{"type":"cloud.fabX.fabXaccess.device.ws.UnlockTool","commandId":null,"toolId":"x"}`},
		{"unknown field", `{"type":"cloud.fabX.fabXaccess.device.ws.UnlockTool","commandId":1,"toolId":"x","extra":true}`},
		{"wrong field type", `{"type":"cloud.fabX.fabXaccess.device.ws.UnlockTool","commandId":"1","toolId":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeServerToDeviceCommand(tt.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDeviceCommunicationSerializationError))
		})
	}
}

func TestDecode_NotificationRejectsCommandID(t *testing.T) {
	_, err := DecodeDeviceToServerNotification(`{"type":"cloud.fabX.fabXaccess.device.ws.ToolUnlockedNotification","toolId":"t","commandId":3}`)
	assert.ErrorIs(t, err, ErrDeviceCommunicationSerializationError)
}

func TestDecode_OptionalIdentitiesMayBeAbsent(t *testing.T) {
	command, err := DecodeDeviceToServerCommand(`{"type":"cloud.fabX.fabXaccess.device.ws.GetAuthorizedTools","commandId":5,"phoneNrIdentity":null}`)

	require.NoError(t, err)
	assert.Equal(t, &GetAuthorizedTools{CommandID: 5}, command)
}

func TestNewCommandID_FitsInt32(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := NewCommandID()
		assert.GreaterOrEqual(t, int64(id), int64(0))
		assert.LessOrEqual(t, int64(id), int64(1<<31-1))
	}
}

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "ToolUnlockResponse{CommandID:3}", FormatMessage(&ToolUnlockResponse{CommandID: 3}))
	assert.Equal(t, "<nil>", FormatMessage(nil))
}
