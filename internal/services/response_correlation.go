package services

import (
	"context"
	"fmt"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/models"
)

// ResponseCorrelationTable matches device responses to the callers waiting
// for them. Each slot is keyed by command id and holds at most one response.
type ResponseCorrelationTable struct {
	slots  cmap.ConcurrentMap[models.CommandID, chan models.DeviceResponse]
	logger zerolog.Logger
}

// NewResponseCorrelationTable creates an empty table.
func NewResponseCorrelationTable(logger zerolog.Logger) *ResponseCorrelationTable {
	return &ResponseCorrelationTable{
		slots: cmap.NewWithCustomShardingFunction[models.CommandID, chan models.DeviceResponse](
			func(id models.CommandID) uint32 { return uint32(id) },
		),
		logger: logger,
	}
}

// Setup creates the slot for commandID. It must be called before the command
// is sent so a fast response is not lost. Returns false if a slot for
// commandID already exists.
func (t *ResponseCorrelationTable) Setup(commandID models.CommandID) bool {
	return t.slots.SetIfAbsent(commandID, make(chan models.DeviceResponse, 1))
}

// Deliver hands response to the caller waiting on its command id. Responses
// without a slot, or for a slot that is already filled, are dropped.
func (t *ResponseCorrelationTable) Deliver(response models.DeviceResponse) {
	commandID := response.GetCommandID()
	slot, ok := t.slots.Get(commandID)
	if !ok {
		t.logger.Warn().
			Int64("command_id", int64(commandID)).
			Str("response", models.FormatMessage(response)).
			Msg("Received response for unknown command")
		return
	}

	select {
	case slot <- response:
		t.logger.Debug().Int64("command_id", int64(commandID)).Msg("Delivered device response")
	default:
		t.logger.Warn().
			Int64("command_id", int64(commandID)).
			Str("response", models.FormatMessage(response)).
			Msg("Dropping duplicate response for command")
	}
}

// Await blocks until the response for commandID arrives, timeout elapses or
// ctx is done. The slot is removed in every case. Awaiting a command id that
// was never set up is a programming error and panics.
func (t *ResponseCorrelationTable) Await(ctx context.Context, deviceID models.DeviceID, commandID models.CommandID, timeout time.Duration, correlationID models.CorrelationID) (models.DeviceResponse, error) {
	slot, ok := t.slots.Get(commandID)
	if !ok {
		panic(fmt.Sprintf("no pending response slot for command %d, was Setup called?", commandID))
	}
	defer t.slots.Remove(commandID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-slot:
		t.logger.Debug().
			Int64("command_id", int64(commandID)).
			Str("response", models.FormatMessage(response)).
			Msg("Received device response")
		return response, nil
	case <-timer.C:
		t.logger.Warn().
			Int64("command_id", int64(commandID)).
			Str("device_id", deviceID.String()).
			Dur("timeout", timeout).
			Msg("Timeout while waiting for device response")
		return nil, models.NewDeviceTimeoutError(deviceID, correlationID)
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for response to command %d: %w", commandID, ctx.Err())
	}
}

// Discard removes the slot for commandID without waiting on it.
func (t *ResponseCorrelationTable) Discard(commandID models.CommandID) {
	t.slots.Remove(commandID)
}

// Pending returns the number of open slots.
func (t *ResponseCorrelationTable) Pending() int {
	return t.slots.Count()
}
