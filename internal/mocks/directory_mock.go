package mocks

import (
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/fabxaccess/device-gateway/pkg/identity"
)

// MockDeviceDirectory is a mock implementation of the DeviceDirectory interface
type MockDeviceDirectory struct {
	mock.Mock
}

func (m *MockDeviceDirectory) AuthenticateDevice(mac, secret string) (identity.Device, error) {
	args := m.Called(mac, secret)
	return args.Get(0).(identity.Device), args.Error(1)
}

func (m *MockDeviceDirectory) GetDevice(id uuid.UUID) (identity.Device, error) {
	args := m.Called(id)
	return args.Get(0).(identity.Device), args.Error(1)
}

func (m *MockDeviceDirectory) AttachedTools(deviceID uuid.UUID) (map[int]identity.Tool, error) {
	args := m.Called(deviceID)
	if tools, ok := args.Get(0).(map[int]identity.Tool); ok {
		return tools, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDeviceDirectory) RecordFirmwareVersion(deviceID uuid.UUID, version string) (identity.Device, error) {
	args := m.Called(deviceID, version)
	return args.Get(0).(identity.Device), args.Error(1)
}

func (m *MockDeviceDirectory) GetTool(id uuid.UUID) (identity.Tool, error) {
	args := m.Called(id)
	return args.Get(0).(identity.Tool), args.Error(1)
}

func (m *MockDeviceDirectory) GetUser(id uuid.UUID) (identity.User, error) {
	args := m.Called(id)
	return args.Get(0).(identity.User), args.Error(1)
}

func (m *MockDeviceDirectory) FindUser(userIdentity identity.UserIdentity) (identity.User, bool, error) {
	args := m.Called(userIdentity)
	return args.Get(0).(identity.User), args.Bool(1), args.Error(2)
}

func (m *MockDeviceDirectory) ValidatePin(userID uuid.UUID, pin string) error {
	args := m.Called(userID, pin)
	return args.Error(0)
}

func (m *MockDeviceDirectory) AddCardIdentity(userID uuid.UUID, cardID, cardSecret string) error {
	args := m.Called(userID, cardID, cardSecret)
	return args.Error(0)
}
