package service_registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/httpapi"
	"github.com/fabxaccess/device-gateway/internal/registry"
	"github.com/fabxaccess/device-gateway/internal/services"
	"github.com/fabxaccess/device-gateway/internal/utils"
	"github.com/fabxaccess/device-gateway/pkg/mqtt"
)

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry. mqttClient may be
// nil when MQTT is disabled.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]registry.Service),
		mqttClient: mqttClient,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices wires the gateway and registers its services. Services
// start in registration order and stop in reverse, so the HTTP server stops
// accepting connections before device connections are closed and the event
// publisher drains last.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, directory services.DeviceDirectory) error {
	var events services.EventPublisher
	if config.MQTT.Enabled {
		if sr.mqttClient == nil {
			return errors.New("mqtt is enabled but no mqtt client was provided")
		}
		publisher := services.NewMQTTEventPublisher(
			config.MQTT.TopicPrefix,
			config.MQTT.QOS,
			config.MQTT.Workers,
			config.MQTT.QueueSize,
			config.MQTT.PublishTimeout,
			sr.mqttClient,
			sr.Logger.With().Str("service", "event_publisher").Logger(),
		)
		sr.RegisterService("event_publisher", publisher)
		events = publisher
	} else {
		events = services.NewLogEventPublisher(sr.Logger.With().Str("service", "events").Logger())
	}

	websocketService := services.NewDeviceWebsocketService(
		config.Websocket.WriteTimeout,
		config.Websocket.PingInterval,
		config.Websocket.ReadLimit,
		services.NewDirectoryAuthenticator(directory, sr.Logger),
		services.NewDirectoryCommandHandler(directory, events, sr.Logger.With().Str("service", "device_commands").Logger()),
		services.NewDirectoryNotificationHandler(directory, events, sr.Logger.With().Str("service", "device_notifications").Logger()),
		events,
		sr.Logger.With().Str("service", "device_websocket").Logger(),
	)
	sr.RegisterService("device_websocket", websocketService)

	commandService := services.NewDeviceCommandService(
		websocketService,
		config.Websocket.ReceiveTimeout,
		config.Websocket.CardCreationTimeout,
		sr.Logger.With().Str("service", "device_command_sender").Logger(),
	)
	cardService := services.NewCardEnrollmentService(commandService, directory, events, sr.Logger)

	api := httpapi.NewAPI(commandService, cardService, websocketService, sr.Logger.With().Str("service", "http_api").Logger())
	router := httpapi.NewRouter(api, websocketService, config.Server.AdminToken, config.Server.RequestTimeout, sr.Logger)
	sr.RegisterService("http", services.NewHTTPServerService(
		config.Server.Addr,
		config.Server.ShutdownTimeout,
		router,
		sr.Logger.With().Str("service", "http").Logger(),
	))

	sr.Logger.Info().Msgf("Registered services in order: %v", sr.serviceKeys)
	return nil
}
