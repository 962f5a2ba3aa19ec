package models

import (
	"errors"

	"github.com/google/uuid"
)

// CorrelationID ties together the log lines, events and errors of one operation.
type CorrelationID = uuid.UUID

// Error kinds. Match them with errors.Is.
var (
	ErrDeviceNotConnected                    = errors.New("device not connected")
	ErrDeviceTimeout                         = errors.New("device timeout")
	ErrDeviceCommunicationSerializationError = errors.New("device communication serialization error")
	ErrUnexpectedDeviceResponse              = errors.New("unexpected device response")

	ErrNotAuthenticated         = errors.New("not authenticated")
	ErrDeviceNotFound           = errors.New("device not found")
	ErrDeviceNotFoundByIdentity = errors.New("device not found by identity")
	ErrToolNotFound             = errors.New("tool not found")
	ErrUserNotFound             = errors.New("user not found")
	ErrUserNotFoundByIdentity   = errors.New("user not found by identity")
	ErrUserIsLocked             = errors.New("user is locked")
	ErrInvalidSecondFactor      = errors.New("invalid second factor")
	ErrCardIDInUse              = errors.New("card id in use")
	ErrMacInvalid               = errors.New("mac invalid")
	ErrSecretInvalid            = errors.New("secret invalid")
)

// DomainError is a recoverable error surfaced to callers and, for
// device-initiated commands, to the device as an ErrorResponse.
type DomainError struct {
	Kind          error
	Message       string
	Parameters    map[string]string
	CorrelationID *uuid.UUID
}

func (e *DomainError) Error() string {
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Kind
}

// NewDomainError builds a DomainError. A zero correlation id is left unset.
func NewDomainError(kind error, message string, parameters map[string]string, correlationID CorrelationID) *DomainError {
	if parameters == nil {
		parameters = map[string]string{}
	}
	e := &DomainError{
		Kind:       kind,
		Message:    message,
		Parameters: parameters,
	}
	if correlationID != uuid.Nil {
		e.CorrelationID = &correlationID
	}
	return e
}

func NewDeviceNotConnectedError(deviceID DeviceID, correlationID CorrelationID) *DomainError {
	return NewDomainError(
		ErrDeviceNotConnected,
		"Device with id "+deviceID.String()+" is currently not connected.",
		map[string]string{"deviceId": deviceID.String()},
		correlationID,
	)
}

func NewDeviceTimeoutError(deviceID DeviceID, correlationID CorrelationID) *DomainError {
	return NewDomainError(
		ErrDeviceTimeout,
		"Timeout while waiting for response from device "+deviceID.String()+".",
		map[string]string{"deviceId": deviceID.String()},
		correlationID,
	)
}

func NewUnexpectedDeviceResponseError(deviceID DeviceID, response DeviceResponse, correlationID CorrelationID) *DomainError {
	return NewDomainError(
		ErrUnexpectedDeviceResponse,
		"Unexpected device response type.",
		map[string]string{"deviceId": deviceID.String(), "response": FormatMessage(response)},
		correlationID,
	)
}

func NewSerializationError(message string) *DomainError {
	return NewDomainError(ErrDeviceCommunicationSerializationError, message, nil, uuid.Nil)
}

// ErrorResponseFrom converts err into the ErrorResponse a device receives
// for the command commandID.
func ErrorResponseFrom(commandID CommandID, err error) *ErrorResponse {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		parameters := make(map[string]string, len(domainErr.Parameters))
		for k, v := range domainErr.Parameters {
			parameters[k] = v
		}
		return &ErrorResponse{
			CommandID:     commandID,
			Message:       domainErr.Message,
			Parameters:    parameters,
			CorrelationID: domainErr.CorrelationID,
		}
	}
	return &ErrorResponse{
		CommandID:  commandID,
		Message:    err.Error(),
		Parameters: map[string]string{},
	}
}
