package repositories

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatvault/internal/models"
)

// ChatRepository is the durable store for chats, messages and folders.
//
// A repository built over a nil DB answers Available() == false and turns
// every operation into a logged no-op or empty result, so a missing local
// database never blocks the in-memory chat experience.
//
// Invariant-bearing pairs (message pin flag vs. the chat's pin cache, chat
// folder reference vs. folder membership) are only ever written together,
// inside a transaction, by a single method here. Callers cannot update one
// side without the other.
type ChatRepository interface {
	Available() bool

	SaveChat(ctx context.Context, chat *models.Chat) (string, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	GetAllChats(ctx context.Context) ([]models.Chat, error)
	GetChatsByFolder(ctx context.Context, folderID string) ([]models.Chat, error)
	UpdateChat(ctx context.Context, id string, updates map[string]any) error
	DeleteChat(ctx context.Context, id string) error

	SaveMessage(ctx context.Context, msg *models.Message) (string, error)
	GetChatMessages(ctx context.Context, chatID string) ([]models.Message, error)
	ClearChatMessages(ctx context.Context, chatID string) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	SetMessagePinned(ctx context.Context, chatID, messageID string, pinned bool) error

	SaveFolder(ctx context.Context, folder *models.Folder) (string, error)
	GetAllFolders(ctx context.Context) ([]models.Folder, error)
	DeleteFolder(ctx context.Context, id string) error
	MoveChatToFolder(ctx context.Context, chatID, folderID string) error
	ReorderFolders(ctx context.Context, orderedIDs []string) error

	IsEmpty(ctx context.Context) (bool, error)
	ImportLegacyData(ctx context.Context, chats []models.Chat, folders []models.Folder) error
}

type gormChatRepository struct {
	db *gorm.DB
}

// NewChatRepository builds a repository over db. A nil db yields the
// degraded, always-empty variant.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &gormChatRepository{db: db}
}

func (r *gormChatRepository) Available() bool {
	return r.db != nil
}

func (r *gormChatRepository) unavailable(op string) bool {
	if r.db != nil {
		return false
	}
	log.Printf("chat repository unavailable, skipping %s", op)
	return true
}

// SaveChat upserts the chat record without its messages. Messages live in
// their own table; rewriting them here on every chat-level edit would clobber
// concurrent appends.
func (r *gormChatRepository) SaveChat(ctx context.Context, chat *models.Chat) (string, error) {
	if chat == nil || chat.ID == "" {
		return "", errors.New("chat with id is required")
	}
	if r.unavailable("SaveChat") {
		return chat.ID, nil
	}

	record := *chat
	record.Messages = nil
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.UpdatedAt = time.Now()
	chat.UpdatedAt = record.UpdatedAt

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "model", "folder_id", "favorite", "pinned_message_ids", "updated_at",
		}),
	}).Create(&record).Error
	if err != nil {
		return "", fmt.Errorf("save chat: %w", err)
	}
	return record.ID, nil
}

func (r *gormChatRepository) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	if id == "" {
		return nil, errors.New("chat id is required")
	}
	if r.unavailable("GetChat") {
		return nil, nil
	}

	var chat models.Chat
	res := r.db.WithContext(ctx).Take(&chat, "id = ?", id)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, res.Error
	}
	return &chat, nil
}

func (r *gormChatRepository) GetAllChats(ctx context.Context) ([]models.Chat, error) {
	if r.unavailable("GetAllChats") {
		return nil, nil
	}

	var chats []models.Chat
	res := r.db.WithContext(ctx).Order("updated_at desc").Find(&chats)
	if res.Error != nil {
		return nil, res.Error
	}
	return chats, nil
}

func (r *gormChatRepository) GetChatsByFolder(ctx context.Context, folderID string) ([]models.Chat, error) {
	if folderID == "" {
		return nil, errors.New("folder id is required")
	}
	if r.unavailable("GetChatsByFolder") {
		return nil, nil
	}

	var chats []models.Chat
	res := r.db.WithContext(ctx).
		Where("folder_id = ?", folderID).
		Order("updated_at desc").
		Find(&chats)
	if res.Error != nil {
		return nil, res.Error
	}
	return chats, nil
}

// UpdateChat writes only the named columns. Used for single-field mutations
// (title, model, favorite) so concurrent edits to other fields survive.
func (r *gormChatRepository) UpdateChat(ctx context.Context, id string, updates map[string]any) error {
	if id == "" {
		return errors.New("chat id is required")
	}
	if len(updates) == 0 {
		return nil
	}
	if r.unavailable("UpdateChat") {
		return nil
	}

	updates["updated_at"] = time.Now()
	return r.db.WithContext(ctx).
		Model(&models.Chat{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// DeleteChat removes the chat, every message owned by it, and its membership
// in whatever folder held it, as one transaction.
func (r *gormChatRepository) DeleteChat(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("chat id is required")
	}
	if r.unavailable("DeleteChat") {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.Take(&chat, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("delete chat messages: %w", err)
		}
		if err := tx.Delete(&models.Chat{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		if chat.FolderID != "" {
			if err := removeFromFolder(tx, chat.FolderID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveMessage upserts the message and touches only the owning chat's
// updated_at column. Called once per streamed flush, so it must never rewrite
// the rest of the chat record.
func (r *gormChatRepository) SaveMessage(ctx context.Context, msg *models.Message) (string, error) {
	if msg == nil || msg.ID == "" || msg.ChatID == "" {
		return "", errors.New("message with id and chat id is required")
	}
	if r.unavailable("SaveMessage") {
		return msg.ID, nil
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "is_pinned"}),
	}).Create(msg).Error
	if err != nil {
		return "", fmt.Errorf("save message: %w", err)
	}

	err = r.db.WithContext(ctx).
		Model(&models.Chat{}).
		Where("id = ?", msg.ChatID).
		Update("updated_at", time.Now()).Error
	if err != nil {
		return "", fmt.Errorf("touch chat: %w", err)
	}
	return msg.ID, nil
}

func (r *gormChatRepository) GetChatMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	if chatID == "" {
		return nil, errors.New("chat id is required")
	}
	if r.unavailable("GetChatMessages") {
		return nil, nil
	}

	var msgs []models.Message
	res := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at asc, id asc").
		Find(&msgs)
	if res.Error != nil {
		return nil, res.Error
	}
	return msgs, nil
}

// ClearChatMessages deletes all messages of a chat and resets its pin cache
// in one transaction.
func (r *gormChatRepository) ClearChatMessages(ctx context.Context, chatID string) error {
	if chatID == "" {
		return errors.New("chat id is required")
	}
	if r.unavailable("ClearChatMessages") {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}
		return tx.Model(&models.Chat{}).
			Where("id = ?", chatID).
			Updates(map[string]any{
				"pinned_message_ids": models.IDList{},
				"updated_at":         time.Now(),
			}).Error
	})
}

// DeleteMessage removes a single message. Used to drop untouched assistant
// placeholders after a failed generation; the owning chat is left as-is.
func (r *gormChatRepository) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if chatID == "" || messageID == "" {
		return errors.New("chat id and message id are required")
	}
	if r.unavailable("DeleteMessage") {
		return nil
	}

	return r.db.WithContext(ctx).
		Where("id = ? AND chat_id = ?", messageID, chatID).
		Delete(&models.Message{}).Error
}

// SetMessagePinned flips the message flag and rewrites the chat's pin cache
// together, so the two can never diverge.
func (r *gormChatRepository) SetMessagePinned(ctx context.Context, chatID, messageID string, pinned bool) error {
	if chatID == "" || messageID == "" {
		return errors.New("chat id and message id are required")
	}
	if r.unavailable("SetMessagePinned") {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).
			Where("id = ? AND chat_id = ?", messageID, chatID).
			Update("is_pinned", pinned)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("message %s not found in chat %s", messageID, chatID)
		}

		var chat models.Chat
		if err := tx.Take(&chat, "id = ?", chatID).Error; err != nil {
			return err
		}
		pinnedIDs := chat.PinnedMessageIDs.Without(messageID)
		if pinned {
			pinnedIDs = pinnedIDs.With(messageID)
		}
		return tx.Model(&models.Chat{}).
			Where("id = ?", chatID).
			Update("pinned_message_ids", pinnedIDs).Error
	})
}

func (r *gormChatRepository) SaveFolder(ctx context.Context, folder *models.Folder) (string, error) {
	if folder == nil || folder.ID == "" {
		return "", errors.New("folder with id is required")
	}
	if r.unavailable("SaveFolder") {
		return folder.ID, nil
	}

	if folder.CreatedAt.IsZero() {
		folder.CreatedAt = time.Now()
	}
	folder.UpdatedAt = time.Now()

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "chat_ids", "position", "updated_at"}),
	}).Create(folder).Error
	if err != nil {
		return "", fmt.Errorf("save folder: %w", err)
	}
	return folder.ID, nil
}

func (r *gormChatRepository) GetAllFolders(ctx context.Context) ([]models.Folder, error) {
	if r.unavailable("GetAllFolders") {
		return nil, nil
	}

	var folders []models.Folder
	res := r.db.WithContext(ctx).Order("position asc, created_at asc").Find(&folders)
	if res.Error != nil {
		return nil, res.Error
	}
	return folders, nil
}

// DeleteFolder removes the folder and clears the folder reference on member
// chats. The chats and their messages survive.
func (r *gormChatRepository) DeleteFolder(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("folder id is required")
	}
	if r.unavailable("DeleteFolder") {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Chat{}).
			Where("folder_id = ?", id).
			Update("folder_id", "").Error; err != nil {
			return fmt.Errorf("clear folder members: %w", err)
		}
		return tx.Delete(&models.Folder{}, "id = ?", id).Error
	})
}

// MoveChatToFolder updates the chat's folder reference and both folders'
// membership lists as a single logical operation. An empty folderID moves the
// chat out of any folder.
func (r *gormChatRepository) MoveChatToFolder(ctx context.Context, chatID, folderID string) error {
	if chatID == "" {
		return errors.New("chat id is required")
	}
	if r.unavailable("MoveChatToFolder") {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.Take(&chat, "id = ?", chatID).Error; err != nil {
			return err
		}
		if chat.FolderID == folderID {
			return nil
		}

		if chat.FolderID != "" {
			if err := removeFromFolder(tx, chat.FolderID, chatID); err != nil {
				return err
			}
		}
		if folderID != "" {
			var folder models.Folder
			if err := tx.Take(&folder, "id = ?", folderID).Error; err != nil {
				return fmt.Errorf("target folder: %w", err)
			}
			if err := tx.Model(&models.Folder{}).
				Where("id = ?", folderID).
				Updates(map[string]any{
					"chat_ids":   folder.ChatIDs.With(chatID),
					"updated_at": time.Now(),
				}).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Chat{}).
			Where("id = ?", chatID).
			Updates(map[string]any{
				"folder_id":  folderID,
				"updated_at": time.Now(),
			}).Error
	})
}

func (r *gormChatRepository) ReorderFolders(ctx context.Context, orderedIDs []string) error {
	if r.unavailable("ReorderFolders") {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, id := range orderedIDs {
			if err := tx.Model(&models.Folder{}).
				Where("id = ?", id).
				Update("position", i).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *gormChatRepository) IsEmpty(ctx context.Context) (bool, error) {
	if r.unavailable("IsEmpty") {
		return true, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Chat{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count == 0, nil
}

// ImportLegacyData fans a flat chat array with embedded messages into the
// normalized tables. The caller guards idempotence (only invoked on an empty
// repository).
func (r *gormChatRepository) ImportLegacyData(ctx context.Context, chats []models.Chat, folders []models.Folder) error {
	if r.unavailable("ImportLegacyData") {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range folders {
			folder := folders[i]
			if folder.ID == "" {
				continue
			}
			if folder.Position == 0 {
				folder.Position = i
			}
			if err := tx.Create(&folder).Error; err != nil {
				return fmt.Errorf("import folder %s: %w", folder.ID, err)
			}
		}
		for i := range chats {
			chat := chats[i]
			if chat.ID == "" {
				continue
			}
			msgs := chat.Messages
			chat.Messages = nil

			// Rebuild the pin cache from the embedded messages; older
			// generations did not persist it.
			pinned := models.IDList{}
			for _, m := range msgs {
				if m.IsPinned {
					pinned = pinned.With(m.ID)
				}
			}
			chat.PinnedMessageIDs = pinned

			if err := tx.Create(&chat).Error; err != nil {
				return fmt.Errorf("import chat %s: %w", chat.ID, err)
			}
			for j := range msgs {
				msg := msgs[j]
				msg.ChatID = chat.ID
				if err := tx.Create(&msg).Error; err != nil {
					return fmt.Errorf("import message %s: %w", msg.ID, err)
				}
			}
		}
		return nil
	})
}

func removeFromFolder(tx *gorm.DB, folderID, chatID string) error {
	var folder models.Folder
	if err := tx.Take(&folder, "id = ?", folderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if !folder.ChatIDs.Contains(chatID) {
		return nil
	}
	return tx.Model(&models.Folder{}).
		Where("id = ?", folderID).
		Updates(map[string]any{
			"chat_ids":   folder.ChatIDs.Without(chatID),
			"updated_at": time.Now(),
		}).Error
}
