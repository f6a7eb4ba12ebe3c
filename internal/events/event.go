package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInfo    EventType = "info"
	EventWarn    EventType = "warn"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
)

// Event names emitted by the services.
const (
	ChatUpdated     = "events:chat:updated"
	StorageDegraded = "events:storage:degraded"
	ChatDeleted     = "events:chat:deleted"
	FolderUpdated   = "events:folder:updated"
	APIKeyUpdated   = "events:apikey:updated"
	ProfileUpdated  = "events:profile:updated"
	SettingsUpdated = "events:settings:updated"
	GenerateChunk   = "events:generate:chunk"
	GenerateDone    = "events:generate:done"
	GenerateError   = "events:generate:error"
)

// Event is the payload carried by every notification.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	ChatID    string            `json:"chatId,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type contextKey string

const chatContextKey contextKey = "chatvault/events/chat"

// WithChat returns a derived context annotated with a chat id so emitters can
// automatically scope payloads.
func WithChat(ctx context.Context, chatID string) context.Context {
	if strings.TrimSpace(chatID) == "" {
		return ctx
	}
	return context.WithValue(ctx, chatContextKey, chatID)
}

// ChatFromContext extracts the chat id associated with ctx.
func ChatFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(chatContextKey).(string); ok {
		return v
	}
	return ""
}

func newEvent(eventType EventType, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewInfo creates an info Event.
func NewInfo(message string) Event { return newEvent(EventInfo, message) }

// NewWarn creates a warn Event.
func NewWarn(message string) Event { return newEvent(EventWarn, message) }

// NewError creates an error Event.
func NewError(message string) Event { return newEvent(EventError, message) }

// NewSuccess creates a success Event.
func NewSuccess(message string) Event { return newEvent(EventSuccess, message) }
