package services

import (
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/models"
)

// ConnectionRegistry tracks the single active connection of every device.
type ConnectionRegistry struct {
	connections cmap.ConcurrentMap[string, *DeviceConnection]
	logger      zerolog.Logger
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry(logger zerolog.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		connections: cmap.New[*DeviceConnection](),
		logger:      logger,
	}
}

// Register installs conn for its device. A connection already registered for
// the same device is evicted in the same atomic step.
func (r *ConnectionRegistry) Register(conn *DeviceConnection) {
	deviceID := conn.Actor().DeviceID
	r.connections.Upsert(deviceID.String(), conn, func(exists bool, existing, replacement *DeviceConnection) *DeviceConnection {
		if exists && existing != replacement {
			existing.evict()
			r.logger.Warn().
				Str("device_id", deviceID.String()).
				Msg("Removed websocket to device as new connection of same device was established")
		} else {
			r.logger.Debug().Str("device_id", deviceID.String()).Msg("No existing connection for device")
		}
		return replacement
	})
}

// Unregister removes conn, but only if it is still the registered connection
// of its device. Reports whether it was removed.
func (r *ConnectionRegistry) Unregister(conn *DeviceConnection) bool {
	deviceID := conn.Actor().DeviceID
	removed := r.connections.RemoveCb(deviceID.String(), func(_ string, current *DeviceConnection, exists bool) bool {
		return exists && current == conn
	})
	if removed {
		r.logger.Debug().Str("device_id", deviceID.String()).Msg("Removed current connection of device")
	} else {
		r.logger.Debug().Str("device_id", deviceID.String()).Msg("Not removing connection, as it is not the current connection of device")
	}
	return removed
}

// Lookup returns the current connection of deviceID.
func (r *ConnectionRegistry) Lookup(deviceID models.DeviceID) (*DeviceConnection, bool) {
	return r.connections.Get(deviceID.String())
}

func (r *ConnectionRegistry) IsConnected(deviceID models.DeviceID) bool {
	return r.connections.Has(deviceID.String())
}

// ConnectedDevices lists the ids of all connected devices.
func (r *ConnectionRegistry) ConnectedDevices() []models.DeviceID {
	keys := r.connections.Keys()
	ids := make([]models.DeviceID, 0, len(keys))
	for _, key := range keys {
		id, err := uuid.Parse(key)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// CloseAll cancels every registered connection with cause.
func (r *ConnectionRegistry) CloseAll(cause error) {
	for item := range r.connections.IterBuffered() {
		item.Val.shutdown(cause)
	}
}
