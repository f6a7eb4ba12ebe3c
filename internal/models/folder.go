package models

import "time"

// Folder is a user-defined grouping of chats. ChatIDs keeps the member order;
// it must always agree with the FolderID column on the member chats, which is
// why both sides are only ever written together inside the repository.
type Folder struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:120;not null" json:"name"`
	ChatIDs   IDList    `gorm:"type:text" json:"chatIds"`
	Position  int       `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
