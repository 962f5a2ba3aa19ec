package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/constants"
	"github.com/fabxaccess/device-gateway/internal/models"
)

// DirectoryNotificationHandler records device notifications as domain events.
type DirectoryNotificationHandler struct {
	directory DeviceDirectory
	events    EventPublisher
	logger    zerolog.Logger
}

func NewDirectoryNotificationHandler(directory DeviceDirectory, events EventPublisher, logger zerolog.Logger) *DirectoryNotificationHandler {
	return &DirectoryNotificationHandler{
		directory: directory,
		events:    events,
		logger:    logger,
	}
}

func (h *DirectoryNotificationHandler) HandleNotification(ctx context.Context, actor models.DeviceActor, notification models.DeviceToServerNotification) error {
	switch n := notification.(type) {
	case *models.ToolUnlockedNotification:
		return h.toolUnlocked(actor, n)
	default:
		return fmt.Errorf("unsupported notification %s", notification.TypeName())
	}
}

func (h *DirectoryNotificationHandler) toolUnlocked(actor models.DeviceActor, notification *models.ToolUnlockedNotification) error {
	correlationID := uuid.New()

	toolID, err := uuid.Parse(notification.ToolID)
	if err != nil {
		return models.NewDomainError(models.ErrToolNotFound, "Tool not found.", map[string]string{"toolId": notification.ToolID}, correlationID)
	}
	tool, err := h.directory.GetTool(toolID)
	if err != nil {
		return directoryError(err, map[string]string{"toolId": notification.ToolID}, correlationID)
	}

	attributes := map[string]string{
		"toolId":   tool.ID.String(),
		"toolName": tool.Name,
	}
	user, ok, err := h.directory.FindUser(userIdentity(notification.PhoneNrIdentity, notification.CardIdentity))
	if err != nil {
		return directoryError(err, nil, correlationID)
	}
	if ok {
		attributes["userId"] = user.ID.String()
	}

	h.logger.Info().
		Str("device_id", actor.DeviceID.String()).
		Str("tool_id", tool.ID.String()).
		Str("user_id", attributes["userId"]).
		Msg("Tool unlocked at device")
	h.events.Publish(models.NewDomainEvent(constants.EventToolUnlocked, actor.DeviceID, correlationID, attributes))
	return nil
}
