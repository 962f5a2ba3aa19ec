package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"github.com/fabxaccess/device-gateway/internal/constants"
)

// CommandID correlates a command with its response.
type CommandID int64

// NewCommandID returns a random non-negative 31-bit command id.
func NewCommandID() CommandID {
	return CommandID(rand.Int32())
}

// Message is any frame exchanged with a device.
type Message interface {
	// TypeName is the variant name carried in the "type" discriminant.
	TypeName() string
}

// DeviceToServerCommand is sent by a device and requires a DeviceResponse.
type DeviceToServerCommand interface {
	Message
	GetCommandID() CommandID
	deviceToServerCommand()
}

// DeviceToServerNotification is sent by a device and is not answered.
type DeviceToServerNotification interface {
	Message
	deviceToServerNotification()
}

// ServerToDeviceCommand is sent to a device, which answers with a DeviceResponse.
type ServerToDeviceCommand interface {
	Message
	GetCommandID() CommandID
	serverToDeviceCommand()
}

// DeviceResponse answers the command with the same CommandID, in either direction.
type DeviceResponse interface {
	Message
	GetCommandID() CommandID
	deviceResponse()
}

type PhoneNrIdentity struct {
	PhoneNr string `json:"phoneNr"`
}

type CardIdentity struct {
	CardID     string `json:"cardId"`
	CardSecret string `json:"cardSecret"`
}

type PinIdentityDetails struct {
	Pin string `json:"pin"`
}

type ToolType string

const (
	ToolTypeUnlock ToolType = "UNLOCK"
	ToolTypeKeep   ToolType = "KEEP"
)

type IdleState string

const (
	IdleStateLow  IdleState = "IDLE_LOW"
	IdleStateHigh IdleState = "IDLE_HIGH"
)

// ToolConfiguration describes a tool attached to a device pin.
type ToolConfiguration struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        ToolType  `json:"type"`
	Requires2FA bool      `json:"requires2FA"`
	Time        int       `json:"time"`
	IdleState   IdleState `json:"idleState"`
}

// GetConfiguration asks for the device's configuration.
type GetConfiguration struct {
	CommandID             CommandID `json:"commandId"`
	ActualFirmwareVersion string    `json:"actualFirmwareVersion"`
}

// GetAuthorizedTools asks which tools the presented user may use.
type GetAuthorizedTools struct {
	CommandID       CommandID        `json:"commandId"`
	PhoneNrIdentity *PhoneNrIdentity `json:"phoneNrIdentity"`
	CardIdentity    *CardIdentity    `json:"cardIdentity"`
}

// ValidateSecondFactor is answered with ValidSecondFactorResponse or ErrorResponse.
type ValidateSecondFactor struct {
	CommandID         CommandID           `json:"commandId"`
	PhoneNrIdentity   *PhoneNrIdentity    `json:"phoneNrIdentity"`
	CardIdentity      *CardIdentity       `json:"cardIdentity"`
	PinSecondIdentity *PinIdentityDetails `json:"pinSecondIdentity"`
}

// ToolUnlockedNotification is sent after a user unlocked a tool at the device.
type ToolUnlockedNotification struct {
	ToolID          string           `json:"toolId"`
	PhoneNrIdentity *PhoneNrIdentity `json:"phoneNrIdentity"`
	CardIdentity    *CardIdentity    `json:"cardIdentity"`
}

type UnlockTool struct {
	CommandID CommandID `json:"commandId"`
	ToolID    string    `json:"toolId"`
}

type RestartDevice struct {
	CommandID CommandID `json:"commandId"`
}

// CreateCard makes the device write a new card for userName.
type CreateCard struct {
	CommandID  CommandID `json:"commandId"`
	UserName   string    `json:"userName"`
	CardSecret string    `json:"cardSecret"`
}

// UpdateDeviceFirmware triggers the device's firmware update process.
type UpdateDeviceFirmware struct {
	CommandID CommandID `json:"commandId"`
}

type ConfigurationResponse struct {
	CommandID        CommandID                 `json:"commandId"`
	Name             string                    `json:"name"`
	Background       string                    `json:"background"`
	BackupBackendURL string                    `json:"backupBackendUrl"`
	AttachedTools    map[int]ToolConfiguration `json:"attachedTools"`
}

type AuthorizedToolsResponse struct {
	CommandID CommandID `json:"commandId"`
	ToolIDs   []string  `json:"toolIds"`
}

type ValidSecondFactorResponse struct {
	CommandID CommandID `json:"commandId"`
}

type ToolUnlockResponse struct {
	CommandID CommandID `json:"commandId"`
}

type DeviceRestartResponse struct {
	CommandID CommandID `json:"commandId"`
}

type CardCreationResponse struct {
	CommandID CommandID `json:"commandId"`
	CardID    string    `json:"cardId"`
}

type UpdateFirmwareResponse struct {
	CommandID CommandID `json:"commandId"`
}

// ErrorResponse is the generic error answer.
type ErrorResponse struct {
	CommandID     CommandID         `json:"commandId"`
	Message       string            `json:"message"`
	Parameters    map[string]string `json:"parameters"`
	CorrelationID *uuid.UUID        `json:"correlationId"`
}

func (*GetConfiguration) TypeName() string          { return "GetConfiguration" }
func (*GetAuthorizedTools) TypeName() string        { return "GetAuthorizedTools" }
func (*ValidateSecondFactor) TypeName() string      { return "ValidateSecondFactor" }
func (*ToolUnlockedNotification) TypeName() string  { return "ToolUnlockedNotification" }
func (*UnlockTool) TypeName() string                { return "UnlockTool" }
func (*RestartDevice) TypeName() string             { return "RestartDevice" }
func (*CreateCard) TypeName() string                { return "CreateCard" }
func (*UpdateDeviceFirmware) TypeName() string      { return "UpdateDeviceFirmware" }
func (*ConfigurationResponse) TypeName() string     { return "ConfigurationResponse" }
func (*AuthorizedToolsResponse) TypeName() string   { return "AuthorizedToolsResponse" }
func (*ValidSecondFactorResponse) TypeName() string { return "ValidSecondFactorResponse" }
func (*ToolUnlockResponse) TypeName() string        { return "ToolUnlockResponse" }
func (*DeviceRestartResponse) TypeName() string     { return "DeviceRestartResponse" }
func (*CardCreationResponse) TypeName() string      { return "CardCreationResponse" }
func (*UpdateFirmwareResponse) TypeName() string    { return "UpdateFirmwareResponse" }
func (*ErrorResponse) TypeName() string             { return "ErrorResponse" }

func (c *GetConfiguration) GetCommandID() CommandID          { return c.CommandID }
func (c *GetAuthorizedTools) GetCommandID() CommandID        { return c.CommandID }
func (c *ValidateSecondFactor) GetCommandID() CommandID      { return c.CommandID }
func (c *UnlockTool) GetCommandID() CommandID                { return c.CommandID }
func (c *RestartDevice) GetCommandID() CommandID             { return c.CommandID }
func (c *CreateCard) GetCommandID() CommandID                { return c.CommandID }
func (c *UpdateDeviceFirmware) GetCommandID() CommandID      { return c.CommandID }
func (r *ConfigurationResponse) GetCommandID() CommandID     { return r.CommandID }
func (r *AuthorizedToolsResponse) GetCommandID() CommandID   { return r.CommandID }
func (r *ValidSecondFactorResponse) GetCommandID() CommandID { return r.CommandID }
func (r *ToolUnlockResponse) GetCommandID() CommandID        { return r.CommandID }
func (r *DeviceRestartResponse) GetCommandID() CommandID     { return r.CommandID }
func (r *CardCreationResponse) GetCommandID() CommandID      { return r.CommandID }
func (r *UpdateFirmwareResponse) GetCommandID() CommandID    { return r.CommandID }
func (r *ErrorResponse) GetCommandID() CommandID             { return r.CommandID }

func (*GetConfiguration) deviceToServerCommand()     {}
func (*GetAuthorizedTools) deviceToServerCommand()   {}
func (*ValidateSecondFactor) deviceToServerCommand() {}

func (*ToolUnlockedNotification) deviceToServerNotification() {}

func (*UnlockTool) serverToDeviceCommand()           {}
func (*RestartDevice) serverToDeviceCommand()        {}
func (*CreateCard) serverToDeviceCommand()           {}
func (*UpdateDeviceFirmware) serverToDeviceCommand() {}

func (*ConfigurationResponse) deviceResponse()     {}
func (*AuthorizedToolsResponse) deviceResponse()   {}
func (*ValidSecondFactorResponse) deviceResponse() {}
func (*ToolUnlockResponse) deviceResponse()        {}
func (*DeviceRestartResponse) deviceResponse()     {}
func (*CardCreationResponse) deviceResponse()      {}
func (*UpdateFirmwareResponse) deviceResponse()    {}
func (*ErrorResponse) deviceResponse()             {}

var deviceToServerCommands = map[string]func() DeviceToServerCommand{
	"GetConfiguration":     func() DeviceToServerCommand { return &GetConfiguration{} },
	"GetAuthorizedTools":   func() DeviceToServerCommand { return &GetAuthorizedTools{} },
	"ValidateSecondFactor": func() DeviceToServerCommand { return &ValidateSecondFactor{} },
}

var deviceToServerNotifications = map[string]func() DeviceToServerNotification{
	"ToolUnlockedNotification": func() DeviceToServerNotification { return &ToolUnlockedNotification{} },
}

var serverToDeviceCommands = map[string]func() ServerToDeviceCommand{
	"UnlockTool":           func() ServerToDeviceCommand { return &UnlockTool{} },
	"RestartDevice":        func() ServerToDeviceCommand { return &RestartDevice{} },
	"CreateCard":           func() ServerToDeviceCommand { return &CreateCard{} },
	"UpdateDeviceFirmware": func() ServerToDeviceCommand { return &UpdateDeviceFirmware{} },
}

var deviceResponses = map[string]func() DeviceResponse{
	"ConfigurationResponse":     func() DeviceResponse { return &ConfigurationResponse{} },
	"AuthorizedToolsResponse":   func() DeviceResponse { return &AuthorizedToolsResponse{} },
	"ValidSecondFactorResponse": func() DeviceResponse { return &ValidSecondFactorResponse{} },
	"ToolUnlockResponse":        func() DeviceResponse { return &ToolUnlockResponse{} },
	"DeviceRestartResponse":     func() DeviceResponse { return &DeviceRestartResponse{} },
	"CardCreationResponse":      func() DeviceResponse { return &CardCreationResponse{} },
	"UpdateFirmwareResponse":    func() DeviceResponse { return &UpdateFirmwareResponse{} },
	"ErrorResponse":             func() DeviceResponse { return &ErrorResponse{} },
}

// Encode serializes m with its "type" discriminant as the first key.
func Encode(m Message) (string, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to serialize %s: %w", m.TypeName(), err)
	}
	tag, err := json.Marshal(constants.WireTypePrefix + m.TypeName())
	if err != nil {
		return "", fmt.Errorf("failed to serialize type of %s: %w", m.TypeName(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.String(), nil
}

func DecodeDeviceToServerCommand(text string) (DeviceToServerCommand, error) {
	return decode(text, "device to server command", deviceToServerCommands, true)
}

func DecodeDeviceToServerNotification(text string) (DeviceToServerNotification, error) {
	return decode(text, "device to server notification", deviceToServerNotifications, false)
}

func DecodeServerToDeviceCommand(text string) (ServerToDeviceCommand, error) {
	return decode(text, "server to device command", serverToDeviceCommands, true)
}

func DecodeDeviceResponse(text string) (DeviceResponse, error) {
	return decode(text, "device response", deviceResponses, true)
}

func decode[T Message](text, family string, variants map[string]func() T, requireCommandID bool) (T, error) {
	var zero T

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return zero, NewSerializationError(fmt.Sprintf("%s is not a JSON object: %v", family, err))
	}

	rawType, ok := fields["type"]
	if !ok {
		return zero, NewSerializationError(family + " has no type discriminant")
	}
	var typeName string
	if err := json.Unmarshal(rawType, &typeName); err != nil {
		return zero, NewSerializationError(fmt.Sprintf("%s type discriminant is not a string: %v", family, err))
	}
	name, ok := strings.CutPrefix(typeName, constants.WireTypePrefix)
	if !ok {
		return zero, NewSerializationError(fmt.Sprintf("unknown %s type %q", family, typeName))
	}
	newVariant, ok := variants[name]
	if !ok {
		return zero, NewSerializationError(fmt.Sprintf("unknown %s type %q", family, typeName))
	}
	if requireCommandID {
		if raw, ok := fields["commandId"]; !ok || string(raw) == "null" {
			return zero, NewSerializationError(fmt.Sprintf("%s %s has no commandId", family, name))
		}
	}

	delete(fields, "type")
	body, err := json.Marshal(fields)
	if err != nil {
		return zero, NewSerializationError(fmt.Sprintf("failed to re-encode %s %s: %v", family, name, err))
	}

	v := newVariant()
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return zero, NewSerializationError(fmt.Sprintf("invalid %s %s: %v", family, name, err))
	}
	return v, nil
}

// FormatMessage renders m for logs and diagnostics, e.g.
// ErrorResponse{CommandID:1 Message:failed Parameters:map[] CorrelationID:<nil>}.
func FormatMessage(m Message) string {
	if m == nil {
		return "<nil>"
	}
	return m.TypeName() + strings.TrimPrefix(fmt.Sprintf("%+v", m), "&")
}
