package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fabxaccess/device-gateway/pkg/file"
)

// MQTTClient defines the interface for an MQTT client.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Options configures the broker connection.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	CACertPath     string
	ConnectTimeout time.Duration
}

// MqttService provides methods for MQTT operations.
type MqttService struct {
	client     mqtt.Client
	fileClient file.FileOperations
}

// NewMqttService creates a new MqttService instance.
func NewMqttService(fileClient file.FileOperations) *MqttService {
	return &MqttService{
		fileClient: fileClient,
	}
}

// Initialize sets up the MQTT client and connects. TLS is used when a CA
// certificate is configured.
func (s *MqttService) Initialize(options Options) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(options.Broker)
	opts.SetClientID(options.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if options.Username != "" {
		opts.SetUsername(options.Username)
		opts.SetPassword(options.Password)
	}

	if options.CACertPath != "" {
		caCert, err := s.fileClient.ReadFileRaw(options.CACertPath)
		if err != nil {
			return fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("failed to append CA certificate")
		}
		opts.SetTLSConfig(&tls.Config{
			RootCAs:    caCertPool,
			MinVersion: tls.VersionTLS12,
		})
	}

	s.client = mqtt.NewClient(opts)

	timeout := options.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	token := s.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout connecting to MQTT broker %s", options.Broker)
	}
	return token.Error()
}

// Connect connects to the MQTT broker.
func (s *MqttService) Connect() mqtt.Token {
	return s.client.Connect()
}

// Publish sends a message to the specified topic.
func (s *MqttService) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return s.client.Publish(topic, qos, retained, payload)
}

func (s *MqttService) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

// Disconnect gracefully disconnects the MQTT client.
func (s *MqttService) Disconnect(quiesce uint) {
	if s.client != nil {
		s.client.Disconnect(quiesce)
	}
}
