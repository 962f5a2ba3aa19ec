package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/constants"
	"github.com/fabxaccess/device-gateway/internal/models"
)

var errCommandIDInUse = errors.New("command id already in use")

// maxCloseReasonBytes is the longest close reason that fits a control frame.
const maxCloseReasonBytes = 123

// DeviceAuthenticator checks the credentials a device presents when opening its channel.
type DeviceAuthenticator interface {
	AuthenticateDevice(identity models.MacSecretIdentity) (models.DeviceActor, error)
}

// DeviceCommandHandler answers commands sent by devices.
type DeviceCommandHandler interface {
	HandleCommand(ctx context.Context, actor models.DeviceActor, command models.DeviceToServerCommand) (models.DeviceResponse, error)
}

// DeviceNotificationHandler processes notifications sent by devices.
type DeviceNotificationHandler interface {
	HandleNotification(ctx context.Context, actor models.DeviceActor, notification models.DeviceToServerNotification) error
}

// EventPublisher forwards domain events. Publish must not block.
type EventPublisher interface {
	Publish(event models.DomainEvent)
}

// DeviceWebsocketService accepts device connections and multiplexes
// commands, notifications and responses over each of them.
type DeviceWebsocketService struct {
	// Configuration
	writeTimeout time.Duration
	pingInterval time.Duration
	readLimit    int64

	// Dependencies
	authenticator       DeviceAuthenticator
	commandHandler      DeviceCommandHandler
	notificationHandler DeviceNotificationHandler
	events              EventPublisher
	logger              zerolog.Logger

	registry  *ConnectionRegistry
	responses *ResponseCorrelationTable
	upgrader  websocket.Upgrader

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDeviceWebsocketService creates the service. A zero writeTimeout or
// readLimit falls back to the defaults; a zero pingInterval disables keepalive.
func NewDeviceWebsocketService(
	writeTimeout time.Duration,
	pingInterval time.Duration,
	readLimit int64,
	authenticator DeviceAuthenticator,
	commandHandler DeviceCommandHandler,
	notificationHandler DeviceNotificationHandler,
	events EventPublisher,
	logger zerolog.Logger,
) *DeviceWebsocketService {
	if writeTimeout <= 0 {
		writeTimeout = constants.DefaultWriteTimeout
	}
	if readLimit <= 0 {
		readLimit = constants.DefaultReadLimit
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &DeviceWebsocketService{
		writeTimeout:        writeTimeout,
		pingInterval:        pingInterval,
		readLimit:           readLimit,
		authenticator:       authenticator,
		commandHandler:      commandHandler,
		notificationHandler: notificationHandler,
		events:              events,
		logger:              logger,
		registry:            NewConnectionRegistry(logger),
		responses:           NewResponseCorrelationTable(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start only logs; connections are accepted through ServeHTTP.
func (s *DeviceWebsocketService) Start() error {
	if s.ctx.Err() != nil {
		return errors.New("device websocket service is stopped")
	}
	s.logger.Info().Dur("ping_interval", s.pingInterval).Msg("DeviceWebsocketService ready to accept device connections")
	return nil
}

// Stop closes every device connection and waits for their read loops to exit.
func (s *DeviceWebsocketService) Stop() error {
	s.registry.CloseAll(errServerShuttingDown)
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("DeviceWebsocketService stopped successfully")
	return nil
}

// ServeHTTP authenticates the device with HTTP basic credentials (mac and
// secret), upgrades the connection and runs its read loop until it closes.
func (s *DeviceWebsocketService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mac, secret, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="fabX", charset="UTF-8"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	actor, authErr := s.authenticate(mac, secret)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade device connection")
		return
	}

	if authErr != nil {
		s.reject(conn, authErr)
		return
	}

	s.handleConnection(conn, actor)
}

func (s *DeviceWebsocketService) authenticate(mac, secret string) (models.DeviceActor, error) {
	identity, err := models.NewMacSecretIdentity(mac, secret, uuid.New())
	if err != nil {
		return models.DeviceActor{}, err
	}
	return s.authenticator.AuthenticateDevice(identity)
}

func (s *DeviceWebsocketService) reject(conn *websocket.Conn, authErr error) {
	reason := constants.CloseReasonInvalidAuthentication + authErr.Error()
	if len(reason) > maxCloseReasonBytes {
		reason = reason[:maxCloseReasonBytes]
	}
	s.logger.Info().Err(authErr).Str("remote_addr", conn.RemoteAddr().String()).Msg("Rejected device connection")

	deadline := time.Now().Add(s.writeTimeout)
	if err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send close frame")
	}
	conn.Close()
}

func (s *DeviceWebsocketService) handleConnection(conn WebsocketConn, actor models.DeviceActor) {
	s.wg.Add(1)
	defer s.wg.Done()

	logger := s.logger.With().
		Str("device_id", actor.DeviceID.String()).
		Str("device_name", actor.Name).
		Logger()

	dc := newDeviceConnection(s.ctx, actor, conn, s.writeTimeout, logger)
	if s.ctx.Err() != nil {
		dc.shutdown(errServerShuttingDown)
		dc.close()
		return
	}

	logger.Debug().Int("connected_devices", len(s.registry.ConnectedDevices())).Msg("New connection for device")
	s.registry.Register(dc)
	s.events.Publish(models.NewDomainEvent(constants.EventDeviceConnected, actor.DeviceID, uuid.Nil, nil))

	go s.watch(dc)
	defer s.cleanup(dc)

	if err := dc.SendText(constants.GreetingMessage); err != nil {
		logger.Warn().Err(err).Msg("Failed to send greeting to device")
		return
	}

	s.readLoop(dc)
}

// watch pings the device and closes the transport once the connection is
// cancelled, which unblocks the read loop.
func (s *DeviceWebsocketService) watch(dc *DeviceConnection) {
	var pings <-chan time.Time
	if s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-dc.Done():
			dc.close()
			return
		case <-pings:
			if err := dc.ping(); err != nil {
				dc.logger.Debug().Err(err).Msg("Failed to ping device")
				dc.shutdown(errKeepaliveFailed)
			}
		}
	}
}

func (s *DeviceWebsocketService) readLoop(dc *DeviceConnection) {
	dc.conn.SetReadLimit(s.readLimit)

	extendDeadline := func() {}
	if s.pingInterval > 0 {
		extendDeadline = func() {
			_ = dc.conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
		}
		extendDeadline()
		dc.conn.SetPongHandler(func(string) error {
			extendDeadline()
			return nil
		})
	}

	for {
		messageType, payload, err := dc.conn.ReadMessage()
		if err != nil {
			switch {
			case dc.ctx.Err() != nil:
				dc.logger.Debug().Str("reason", context.Cause(dc.ctx).Error()).Msg("Device connection cancelled")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				dc.logger.Debug().Err(err).Msg("Device closed connection")
			default:
				dc.logger.Warn().Err(err).Msg("Exception during device websocket handling")
			}
			return
		}
		extendDeadline()

		if messageType != websocket.TextMessage {
			dc.logger.Debug().Int("message_type", messageType).Msg("Ignoring non-text frame from device")
			continue
		}
		s.dispatch(dc, string(payload))
	}
}

// dispatch tries response, notification and command decoding in that order.
func (s *DeviceWebsocketService) dispatch(dc *DeviceConnection, text string) {
	dc.logger.Debug().Str("frame", text).Msg("Received frame from device")

	if response, err := models.DecodeDeviceResponse(text); err == nil {
		s.responses.Deliver(response)
		return
	}

	if notification, err := models.DecodeDeviceToServerNotification(text); err == nil {
		s.handleNotification(dc, notification)
		return
	}

	command, err := models.DecodeDeviceToServerCommand(text)
	if err != nil {
		dc.logger.Warn().Err(err).Str("frame", text).Msg("Not able to deserialize incoming message from device")
		return
	}
	s.handleCommand(dc, command)
}

func (s *DeviceWebsocketService) handleNotification(dc *DeviceConnection, notification models.DeviceToServerNotification) {
	if err := s.notificationHandler.HandleNotification(dc.ctx, dc.actor, notification); err != nil {
		dc.logger.Warn().
			Err(err).
			Str("notification", models.FormatMessage(notification)).
			Msg("Failed to handle notification from device")
	}
}

func (s *DeviceWebsocketService) handleCommand(dc *DeviceConnection, command models.DeviceToServerCommand) {
	response, err := s.commandHandler.HandleCommand(dc.ctx, dc.actor, command)
	if err != nil {
		dc.logger.Info().
			Err(err).
			Int64("command_id", int64(command.GetCommandID())).
			Str("command", command.TypeName()).
			Msg("Command from device failed")
		response = models.ErrorResponseFrom(command.GetCommandID(), err)
	} else if response == nil {
		response = models.ErrorResponseFrom(command.GetCommandID(), errors.New("no response for "+command.TypeName()))
	}

	text, err := models.Encode(response)
	if err != nil {
		dc.logger.Error().Err(err).Msg("Failed to serialize response to device")
		return
	}

	dc.logger.Debug().Str("response", text).Msg("Sending response to device")
	if err := dc.SendText(text); err != nil {
		dc.logger.Warn().Err(err).Msg("Failed to send response to device")
	}
}

func (s *DeviceWebsocketService) cleanup(dc *DeviceConnection) {
	dc.close()
	if s.registry.Unregister(dc) {
		s.events.Publish(models.NewDomainEvent(constants.EventDeviceDisconnected, dc.actor.DeviceID, uuid.Nil, nil))
	}
	dc.logger.Debug().Str("reason", context.Cause(dc.ctx).Error()).Msg("Closed connection of device")
}

// SendCommand writes command to the current connection of deviceID.
func (s *DeviceWebsocketService) SendCommand(deviceID models.DeviceID, command models.ServerToDeviceCommand, correlationID models.CorrelationID) error {
	dc, ok := s.registry.Lookup(deviceID)
	if !ok {
		return models.NewDeviceNotConnectedError(deviceID, correlationID)
	}

	text, err := models.Encode(command)
	if err != nil {
		return fmt.Errorf("failed to send command to device %s: %w", deviceID, err)
	}

	dc.logger.Debug().Str("command", text).Str("correlation_id", correlationID.String()).Msg("Sending command to device")
	if err := dc.SendText(text); err != nil {
		dc.logger.Warn().Err(err).Str("command", command.TypeName()).Msg("Failed to send command to device")
		return models.NewDeviceNotConnectedError(deviceID, correlationID)
	}
	return nil
}

// SetupReceivingResponse reserves the response slot for commandID. It fails
// fast when the device is not connected.
func (s *DeviceWebsocketService) SetupReceivingResponse(deviceID models.DeviceID, commandID models.CommandID, correlationID models.CorrelationID) error {
	if !s.registry.IsConnected(deviceID) {
		return models.NewDeviceNotConnectedError(deviceID, correlationID)
	}
	if !s.responses.Setup(commandID) {
		return errCommandIDInUse
	}
	return nil
}

// ReceiveResponse waits for the response to commandID.
func (s *DeviceWebsocketService) ReceiveResponse(ctx context.Context, deviceID models.DeviceID, commandID models.CommandID, timeout time.Duration, correlationID models.CorrelationID) (models.DeviceResponse, error) {
	return s.responses.Await(ctx, deviceID, commandID, timeout, correlationID)
}

// AbandonResponse drops the slot of a command that could not be sent.
func (s *DeviceWebsocketService) AbandonResponse(commandID models.CommandID) {
	s.responses.Discard(commandID)
}

func (s *DeviceWebsocketService) IsConnected(deviceID models.DeviceID) bool {
	return s.registry.IsConnected(deviceID)
}

func (s *DeviceWebsocketService) ConnectedDevices() []models.DeviceID {
	return s.registry.ConnectedDevices()
}
