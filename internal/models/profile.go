package models

import "time"

// UserProfile carries the free-text context a user attaches to conversations.
// Several may exist; the current one is tracked by a separate kvstore pointer.
type UserProfile struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	AvatarURL         string    `json:"avatarUrl,omitempty"`
	Information       string    `json:"information,omitempty"`
	CustomInstruction string    `json:"customInstruction,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
