package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/models"
	"github.com/fabxaccess/device-gateway/internal/utils"
	"github.com/fabxaccess/device-gateway/pkg/mqtt"
)

// MQTTEventPublisher publishes domain events to
// <topicPrefix>/<device id>/<event type>. Publishing happens on a worker pool,
// so Publish never waits for the broker; events are dropped when the queue is full.
type MQTTEventPublisher struct {
	// Configuration
	topicPrefix    string
	qos            int
	workers        int
	queueSize      int
	publishTimeout time.Duration

	// Dependencies
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger

	mu   sync.RWMutex
	pool *utils.WorkerPool
}

// NewMQTTEventPublisher creates a new MQTTEventPublisher.
func NewMQTTEventPublisher(
	topicPrefix string,
	qos int,
	workers int,
	queueSize int,
	publishTimeout time.Duration,
	mqttClient mqtt.MQTTClient,
	logger zerolog.Logger,
) *MQTTEventPublisher {
	return &MQTTEventPublisher{
		topicPrefix:    topicPrefix,
		qos:            qos,
		workers:        workers,
		queueSize:      queueSize,
		publishTimeout: publishTimeout,
		mqttClient:     mqttClient,
		logger:         logger,
	}
}

// Start begins publishing events.
func (p *MQTTEventPublisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return errors.New("event publisher is already running")
	}
	p.pool = utils.NewWorkerPool(p.workers, p.queueSize)
	p.logger.Info().Str("topic_prefix", p.topicPrefix).Int("workers", p.workers).Msg("MQTTEventPublisher started")
	return nil
}

// Stop waits for queued events to be published.
func (p *MQTTEventPublisher) Stop() error {
	p.mu.Lock()
	pool := p.pool
	p.pool = nil
	p.mu.Unlock()

	if pool == nil {
		return nil
	}
	pool.Shutdown()
	p.logger.Info().Msg("MQTTEventPublisher stopped")
	return nil
}

// Publish queues event for publishing.
func (p *MQTTEventPublisher) Publish(event models.DomainEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("event", event.Type).Msg("Failed to serialize event")
		return
	}
	topic := p.topic(event)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pool == nil {
		p.logger.Warn().Str("topic", topic).Msg("Event publisher not running, dropping event")
		return
	}
	if !p.pool.TrySubmit(func() { p.publish(topic, payload) }) {
		p.logger.Warn().Str("topic", topic).Msg("Event queue full, dropping event")
	}
}

func (p *MQTTEventPublisher) publish(topic string, payload []byte) {
	token := p.mqttClient.Publish(topic, byte(p.qos), false, payload)
	if !token.WaitTimeout(p.publishTimeout) {
		p.logger.Error().Str("topic", topic).Msg("Timeout publishing event")
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish event")
		return
	}
	p.logger.Debug().Str("topic", topic).Msg("Published event")
}

func (p *MQTTEventPublisher) topic(event models.DomainEvent) string {
	return fmt.Sprintf("%s/%s/%s", p.topicPrefix, event.DeviceID, event.Type)
}

// LogEventPublisher writes events to the log. Used when no broker is configured.
type LogEventPublisher struct {
	logger zerolog.Logger
}

func NewLogEventPublisher(logger zerolog.Logger) *LogEventPublisher {
	return &LogEventPublisher{logger: logger}
}

func (p *LogEventPublisher) Publish(event models.DomainEvent) {
	e := p.logger.Info().
		Str("event", event.Type).
		Str("device_id", event.DeviceID.String()).
		Time("timestamp", event.Timestamp)
	if event.CorrelationID != nil {
		e = e.Str("correlation_id", event.CorrelationID.String())
	}
	if len(event.Attributes) > 0 {
		e = e.Interface("attributes", event.Attributes)
	}
	e.Msg("Domain event")
}
