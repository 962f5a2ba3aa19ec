package constants

// Domain event types, also used as the last MQTT topic segment.
const (
	EventDeviceConnected         = "device_connected"
	EventDeviceDisconnected      = "device_disconnected"
	EventToolUnlocked            = "tool_unlocked"
	EventCardCreatedAtDevice     = "card_created_at_device"
	EventFirmwareVersionReported = "firmware_version_reported"
)

const (
	DefaultEventTopicPrefix = "fabx/events"
	DefaultEventWorkers     = 4
)
