package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single entry within a chat. Content is mutable: user edits
// rewrite it, and assistant messages accumulate streamed chunks in place.
type Message struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ChatID    string    `gorm:"size:36;not null;index:idx_message_chat" json:"chatId"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	IsPinned  bool      `gorm:"not null;default:false" json:"isPinned"`
	CreatedAt time.Time `json:"createdAt"`
}
