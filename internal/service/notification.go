package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"logistics/internal/domain"
)

// Notifier delivers scheduling notifications. Delivery is best-effort.
type Notifier interface {
	NotifyDriverAssigned(ctx context.Context, driverID int64, trip *domain.Trip) error
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationDriverAssigned NotificationType = "DRIVER_ASSIGNED"
)

// Notification represents a notification to be sent.
type Notification struct {
	ID          string
	Type        NotificationType
	RecipientID int64
	Title       string
	Message     string
	Data        map[string]any
	CreatedAt   time.Time
}

// NotificationService handles notification delivery. The delivery channel is
// the structured log; a push or SMS gateway plugs in behind send.
type NotificationService struct {
	logger *slog.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(logger *slog.Logger) *NotificationService {
	return &NotificationService{logger: logger}
}

// NotifyDriverAssigned tells a driver about a newly scheduled trip.
func (s *NotificationService) NotifyDriverAssigned(ctx context.Context, driverID int64, trip *domain.Trip) error {
	notification := Notification{
		ID:          uuid.NewString(),
		Type:        NotificationDriverAssigned,
		RecipientID: driverID,
		Title:       "New Trip Assigned",
		Message:     fmt.Sprintf("You are driving vehicle %d, departing %s", trip.VehicleID, trip.DepartAt.Format(time.RFC3339)),
		Data: map[string]any{
			"trip_id":    trip.ID,
			"vehicle_id": trip.VehicleID,
			"depart_at":  trip.DepartAt,
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

func (s *NotificationService) send(ctx context.Context, n Notification) error {
	s.logger.InfoContext(ctx, "notification",
		"notification_id", n.ID,
		"type", n.Type,
		"recipient_id", n.RecipientID,
		"title", n.Title,
		"message", n.Message,
	)
	return nil
}

var _ Notifier = (*NotificationService)(nil)
