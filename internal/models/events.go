package models

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is published to the event bus when something noteworthy
// happened on a device channel.
type DomainEvent struct {
	Type          string            `json:"type"`
	DeviceID      DeviceID          `json:"device_id"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID *uuid.UUID        `json:"correlation_id,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// NewDomainEvent stamps an event with the current time. A zero correlation
// id is left unset.
func NewDomainEvent(eventType string, deviceID DeviceID, correlationID uuid.UUID, attributes map[string]string) DomainEvent {
	event := DomainEvent{
		Type:       eventType,
		DeviceID:   deviceID,
		Timestamp:  time.Now().UTC(),
		Attributes: attributes,
	}
	if correlationID != uuid.Nil {
		event.CorrelationID = &correlationID
	}
	return event
}
