package constants

import "time"

const (
	// DefaultReceiveTimeout is how long a sender waits for a device response.
	DefaultReceiveTimeout = 5 * time.Second
	// DefaultCardCreationTimeout is longer because the device waits for a card to be presented.
	DefaultCardCreationTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds a single websocket frame write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultPingInterval is the keepalive ping period; a peer silent for twice this long is dropped.
	DefaultPingInterval = 30 * time.Second
	// DefaultReadLimit is the maximum size of an inbound frame in bytes.
	DefaultReadLimit = 64 * 1024
)

// WireTypePrefix is prepended to every variant name in the "type" discriminant.
// Deployed firmware matches on the full string, so it must not change.
const WireTypePrefix = "cloud.fabX.fabXaccess.device.ws."

// GreetingMessage is the first text frame a device receives after authenticating.
const GreetingMessage = "connected to fabX"

// CloseReasonInvalidAuthentication prefixes the close reason of a rejected connection.
const CloseReasonInvalidAuthentication = "invalid authentication: "

// CardSecretBytes is the number of random bytes in a generated card secret.
const CardSecretBytes = 32
