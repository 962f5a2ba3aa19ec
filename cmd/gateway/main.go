package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/fabxaccess/device-gateway/internal/service_registry"
	"github.com/fabxaccess/device-gateway/internal/utils"
	"github.com/fabxaccess/device-gateway/pkg/file"
	"github.com/fabxaccess/device-gateway/pkg/identity"
	"github.com/fabxaccess/device-gateway/pkg/mqtt"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	hashSecret := flag.String("hash-secret", "", "print the bcrypt hash of a device secret, card secret or pin for the directory file and exit")
	flag.Parse()

	if *hashSecret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*hashSecret), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(hash))
		return
	}

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log = newLogger(config)

	// Load devices, tools and users
	directory := identity.NewDirectory(config.Directory.File, fileClient)
	if err := directory.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load directory")
	}

	var mqttService *mqtt.MqttService
	var mqttClient mqtt.MQTTClient
	if config.MQTT.Enabled {
		// Unique client id per process so replicas do not kick each other off the broker
		clientID := config.MQTT.ClientID + "-" + uuid.New().String()
		log.Info().Str("client_id", clientID).Msg("Using MQTT Client ID")

		mqttService = mqtt.NewMqttService(fileClient)
		err = mqttService.Initialize(mqtt.Options{
			Broker:         config.MQTT.Broker,
			ClientID:       clientID,
			Username:       config.MQTT.Username,
			Password:       config.MQTT.Password,
			CACertPath:     config.MQTT.CACertificate,
			ConnectTimeout: config.MQTT.ConnectTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		mqttClient = mqttService
	}

	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, log)
	if err := serviceRegistry.RegisterServices(config, directory); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}
	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Some services failed to stop")
	}
	if mqttService != nil {
		mqttService.Disconnect(250)
	}
}

func newLogger(config *utils.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(config.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if config.Logging.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
