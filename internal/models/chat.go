package models

import "time"

// DefaultChatTitle is the title given to a freshly created chat until the
// first user message (or an explicit rename) replaces it.
const DefaultChatTitle = "New Chat"

// Chat represents a single conversation thread. Messages are stored in their
// own table and joined by ChatID; the Messages field is hydrated on demand
// and never written as part of the chat record.
type Chat struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	Title            string    `gorm:"size:255;not null" json:"title"`
	Model            string    `gorm:"size:100;not null" json:"model"`
	FolderID         string    `gorm:"size:36;index:idx_chat_folder" json:"folderId,omitempty"`
	Favorite         bool      `gorm:"not null;default:false" json:"favorite"`
	PinnedMessageIDs IDList    `gorm:"type:text" json:"pinnedMessageIds"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `gorm:"index:idx_chat_updated" json:"updatedAt"`

	Messages []Message `gorm:"-" json:"messages,omitempty"`
}
