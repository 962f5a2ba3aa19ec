package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/fabxaccess/device-gateway/internal/models"
)

// MockDeviceChannel is a mock implementation of the DeviceChannel interface
type MockDeviceChannel struct {
	mock.Mock
}

func (m *MockDeviceChannel) SetupReceivingResponse(deviceID models.DeviceID, commandID models.CommandID, correlationID models.CorrelationID) error {
	args := m.Called(deviceID, commandID, correlationID)
	return args.Error(0)
}

func (m *MockDeviceChannel) SendCommand(deviceID models.DeviceID, command models.ServerToDeviceCommand, correlationID models.CorrelationID) error {
	args := m.Called(deviceID, command, correlationID)
	return args.Error(0)
}

func (m *MockDeviceChannel) ReceiveResponse(ctx context.Context, deviceID models.DeviceID, commandID models.CommandID, timeout time.Duration, correlationID models.CorrelationID) (models.DeviceResponse, error) {
	args := m.Called(ctx, deviceID, commandID, timeout, correlationID)
	if response, ok := args.Get(0).(models.DeviceResponse); ok {
		return response, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDeviceChannel) AbandonResponse(commandID models.CommandID) {
	m.Called(commandID)
}

// MockDeviceCommands is a mock implementation of the DeviceCommands interface
type MockDeviceCommands struct {
	mock.Mock
}

func (m *MockDeviceCommands) UnlockTool(ctx context.Context, deviceID models.DeviceID, toolID string, correlationID models.CorrelationID) error {
	args := m.Called(ctx, deviceID, toolID, correlationID)
	return args.Error(0)
}

func (m *MockDeviceCommands) RestartDevice(ctx context.Context, deviceID models.DeviceID, correlationID models.CorrelationID) error {
	args := m.Called(ctx, deviceID, correlationID)
	return args.Error(0)
}

func (m *MockDeviceCommands) UpdateFirmware(ctx context.Context, deviceID models.DeviceID, correlationID models.CorrelationID) error {
	args := m.Called(ctx, deviceID, correlationID)
	return args.Error(0)
}

func (m *MockDeviceCommands) CreateCard(ctx context.Context, deviceID models.DeviceID, userName, cardSecret string, correlationID models.CorrelationID) (string, error) {
	args := m.Called(ctx, deviceID, userName, cardSecret, correlationID)
	return args.String(0), args.Error(1)
}

// MockCardEnrollment is a mock implementation of the CardEnrollment interface
type MockCardEnrollment struct {
	mock.Mock
}

func (m *MockCardEnrollment) AddUserCardIdentity(ctx context.Context, deviceID models.DeviceID, userID uuid.UUID, correlationID models.CorrelationID) (string, error) {
	args := m.Called(ctx, deviceID, userID, correlationID)
	return args.String(0), args.Error(1)
}

// MockDeviceConnections is a mock implementation of the DeviceConnections interface
type MockDeviceConnections struct {
	mock.Mock
}

func (m *MockDeviceConnections) IsConnected(deviceID models.DeviceID) bool {
	args := m.Called(deviceID)
	return args.Bool(0)
}

func (m *MockDeviceConnections) ConnectedDevices() []models.DeviceID {
	args := m.Called()
	return args.Get(0).([]models.DeviceID)
}

// MockDeviceCommandHandler is a mock implementation of the DeviceCommandHandler interface
type MockDeviceCommandHandler struct {
	mock.Mock
}

func (m *MockDeviceCommandHandler) HandleCommand(ctx context.Context, actor models.DeviceActor, command models.DeviceToServerCommand) (models.DeviceResponse, error) {
	args := m.Called(ctx, actor, command)
	if response, ok := args.Get(0).(models.DeviceResponse); ok {
		return response, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockDeviceNotificationHandler is a mock implementation of the DeviceNotificationHandler interface
type MockDeviceNotificationHandler struct {
	mock.Mock
}

func (m *MockDeviceNotificationHandler) HandleNotification(ctx context.Context, actor models.DeviceActor, notification models.DeviceToServerNotification) error {
	args := m.Called(ctx, actor, notification)
	return args.Error(0)
}

// RecordingEventPublisher keeps every published event.
type RecordingEventPublisher struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (p *RecordingEventPublisher) Publish(event models.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

// Events returns a copy of the published events.
func (p *RecordingEventPublisher) Events() []models.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.DomainEvent(nil), p.events...)
}

// Types returns the types of the published events in order.
func (p *RecordingEventPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}
