// Package sse implements Server-Sent Events for pushing settings changes and
// reminder notifications to connected popup clients.
package sse

import (
	"time"

	"github.com/chimeapp/chime-server/internal/domain"
)

// The popup re-derives truth by polling the command surface; the event stream
// exists so an open popup hears about changes (and shown reminders) without
// waiting for its next poll.

// EventType represents the type of SSE event.
type EventType string

const (
	// EventSettingsChanged fires after any accepted settings mutation.
	EventSettingsChanged EventType = "settings.changed"

	// EventAlarmRearmed fires when the scheduler creates or re-creates the reminder timer.
	EventAlarmRearmed EventType = "alarm.rearmed"
	// EventAlarmCleared fires when the scheduler clears the reminder timer.
	EventAlarmCleared EventType = "alarm.cleared"

	// EventNotificationShown carries a reminder for the popup to present.
	EventNotificationShown EventType = "notification.shown"
	// EventNotificationCleared asks the popup to dismiss a shown reminder.
	EventNotificationCleared EventType = "notification.cleared"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
}

// NewHeartbeatEvent creates a keepalive event.
func NewHeartbeatEvent() Event {
	return Event{
		Type:      EventHeartbeat,
		Timestamp: time.Now(),
	}
}

// NewSettingsChangedEvent creates an event carrying the full updated record.
func NewSettingsChangedEvent(settings *domain.Settings) Event {
	return Event{
		Type:      EventSettingsChanged,
		Timestamp: time.Now(),
		Data:      settings,
	}
}

// NewAlarmRearmedEvent creates an event carrying the new fire time in unix ms.
func NewAlarmRearmedEvent(fireAtMs int64) Event {
	return Event{
		Type:      EventAlarmRearmed,
		Timestamp: time.Now(),
		Data:      map[string]int64{"nextNotificationTime": fireAtMs},
	}
}

// NewAlarmClearedEvent creates an event recording that no reminder is scheduled.
func NewAlarmClearedEvent() Event {
	return Event{
		Type:      EventAlarmCleared,
		Timestamp: time.Now(),
	}
}

// NewNotificationShownEvent creates an event carrying a presented reminder.
func NewNotificationShownEvent(n *domain.Notification) Event {
	return Event{
		Type:      EventNotificationShown,
		Timestamp: time.Now(),
		Data:      n,
	}
}

// NewNotificationClearedEvent creates an auto-dismiss event for a reminder.
func NewNotificationClearedEvent(notificationID string) Event {
	return Event{
		Type:      EventNotificationCleared,
		Timestamp: time.Now(),
		Data:      map[string]string{"id": notificationID},
	}
}
