package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/constants"
	"github.com/fabxaccess/device-gateway/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`             // Listen address of the HTTP server
		AdminToken      string        `yaml:"admin_token"`      // Bearer token for the admin API
		RequestTimeout  time.Duration `yaml:"request_timeout"`  // Timeout for admin requests
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Grace period for in-flight requests on shutdown
	} `yaml:"server"`

	Websocket struct {
		ReceiveTimeout      time.Duration `yaml:"receive_timeout"`       // Wait for a device response
		CardCreationTimeout time.Duration `yaml:"card_creation_timeout"` // Wait for a CardCreationResponse
		WriteTimeout        time.Duration `yaml:"write_timeout"`         // Deadline of a single frame write
		PingInterval        time.Duration `yaml:"ping_interval"`         // Keepalive interval, 0 disables pings
		ReadLimit           int64         `yaml:"read_limit"`            // Maximum inbound frame size in bytes
	} `yaml:"websocket"`

	Directory struct {
		File string `yaml:"file"` // Path to the devices, tools and users file
	} `yaml:"directory"`

	MQTT struct {
		Enabled        bool          `yaml:"enabled"`         // Publish events to MQTT instead of the log
		Broker         string        `yaml:"broker"`          // MQTT broker address
		ClientID       string        `yaml:"client_id"`       // MQTT client ID
		Username       string        `yaml:"username"`        // Optional broker username
		Password       string        `yaml:"password"`        // Optional broker password
		CACertificate  string        `yaml:"ca_certificate"`  // Optional path to the CA certificate, enables TLS
		ConnectTimeout time.Duration `yaml:"connect_timeout"` // Timeout of the initial broker connection
		TopicPrefix    string        `yaml:"topic_prefix"`    // Events go to <prefix>/<device id>/<event>
		QOS            int           `yaml:"qos"`             // MQTT QoS level for events
		Workers        int           `yaml:"workers"`         // Number of publishing workers
		QueueSize      int           `yaml:"queue_size"`      // Events buffered before dropping
		PublishTimeout time.Duration `yaml:"publish_timeout"` // Wait for a publish acknowledgement
	} `yaml:"mqtt"`

	Logging struct {
		Level  string `yaml:"level"`  // zerolog level name
		Format string `yaml:"format"` // "json" or "console"
	} `yaml:"logging"`
}

// LoadConfig loads the YAML configuration from the specified file.
// Missing values are filled with defaults before validation.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return &config, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Websocket.ReceiveTimeout == 0 {
		c.Websocket.ReceiveTimeout = constants.DefaultReceiveTimeout
	}
	if c.Websocket.CardCreationTimeout == 0 {
		c.Websocket.CardCreationTimeout = constants.DefaultCardCreationTimeout
	}
	if c.Websocket.WriteTimeout == 0 {
		c.Websocket.WriteTimeout = constants.DefaultWriteTimeout
	}
	if c.Websocket.ReadLimit == 0 {
		c.Websocket.ReadLimit = constants.DefaultReadLimit
	}

	if c.Directory.File == "" {
		c.Directory.File = "configs/directory.json"
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "fabx-device-gateway"
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = constants.DefaultEventTopicPrefix
	}
	if c.MQTT.Workers == 0 {
		c.MQTT.Workers = constants.DefaultEventWorkers
	}
	if c.MQTT.QueueSize == 0 {
		c.MQTT.QueueSize = 256
	}
	if c.MQTT.PublishTimeout == 0 {
		c.MQTT.PublishTimeout = 5 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.AdminToken == "" {
		errs = append(errs, errors.New("server.admin_token is required"))
	}
	if c.Websocket.ReceiveTimeout < 0 || c.Websocket.CardCreationTimeout < 0 || c.Websocket.WriteTimeout < 0 {
		errs = append(errs, errors.New("websocket timeouts must not be negative"))
	}
	if c.Websocket.PingInterval < 0 {
		errs = append(errs, errors.New("websocket.ping_interval must not be negative"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.QOS < 0 || c.MQTT.QOS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QOS))
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
