package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatvault/internal/events"
	"chatvault/internal/kvstore"
	"chatvault/internal/llm/gateway"
	"chatvault/internal/models"
	"chatvault/internal/repositories"
)

// titleMaxRunes is how much of the first user message becomes the chat title.
const titleMaxRunes = 30

// APIKeySource resolves a provider name to its stored API key.
type APIKeySource interface {
	GetAPIKey(provider string) (string, error)
}

// ChatSessionService owns the in-memory mirror of chats and folders and keeps
// it write-through consistent with the repository. UI code reads the mirror,
// never the repository; the repository is only ever written from here.
//
// Every mutation takes the one service mutex, so consecutive writes to the
// same chat always see each other regardless of which call site issued them.
type ChatSessionService interface {
	Startup(ctx context.Context) error

	Chats() []models.Chat
	Folders() []models.Folder
	CurrentChatID() string
	SelectChat(chatID string) error

	CreateChat(modelKey string) (*models.Chat, error)
	RenameChat(chatID, title string) error
	ChangeModel(chatID, modelKey string) error
	DeleteChat(chatID string) error
	ToggleFavorite(chatID string) (bool, error)

	CreateFolder(name string) (*models.Folder, error)
	RenameFolder(folderID, name string) error
	DeleteFolder(folderID string) error
	MoveChatToFolder(chatID, folderID string) error
	ReorderFolders(orderedIDs []string) error

	Messages(chatID string) ([]models.Message, error)
	AddMessage(chatID, content, role string) (*models.Message, error)
	UpdateMessage(chatID, messageID, newContent string) error
	ClearMessages(chatID string) error
	TogglePinMessage(chatID, messageID string) error

	Send(ctx context.Context, chatID, content string) error
	Generate(ctx context.Context, chatID string) error
	IsGenerating(chatID string) bool
	StopGeneration(chatID string)

	SearchChats(query string) []models.Chat
}

type chatSessionService struct {
	repo     repositories.ChatRepository
	kv       *kvstore.Store
	keys     APIKeySource
	settings SettingsService
	profiles ProfileService
	catalog  ModelCatalogService
	gw       gateway.Gateway
	emitter  events.Emitter

	ctx context.Context

	mu         sync.Mutex
	chats      []*models.Chat
	folders    []*models.Folder
	hydrated   map[string]bool
	currentID  string
	generating map[string]context.CancelFunc
}

func NewChatSessionService(
	repo repositories.ChatRepository,
	kv *kvstore.Store,
	keys APIKeySource,
	settings SettingsService,
	profiles ProfileService,
	catalog ModelCatalogService,
	gw gateway.Gateway,
	emitter events.Emitter,
) ChatSessionService {
	if emitter == nil {
		emitter = events.Nop()
	}
	return &chatSessionService{
		repo:       repo,
		kv:         kv,
		keys:       keys,
		settings:   settings,
		profiles:   profiles,
		catalog:    catalog,
		gw:         gw,
		emitter:    emitter,
		hydrated:   make(map[string]bool),
		generating: make(map[string]context.CancelFunc),
	}
}

func (s *chatSessionService) Startup(ctx context.Context) error {
	s.ctx = ctx

	if !s.repo.Available() {
		log.Printf("chat session: repository unavailable, chats will not be saved")
		s.emitter.Emit(ctx, events.StorageDegraded, events.NewWarn("Chats will not be saved in this session."))
	}

	if err := s.runLegacyImport(ctx); err != nil {
		log.Printf("chat session: legacy import failed: %v", err)
	}

	chats, err := s.repo.GetAllChats(ctx)
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}
	folders, err := s.repo.GetAllFolders(ctx)
	if err != nil {
		return fmt.Errorf("load folders: %w", err)
	}

	s.mu.Lock()
	s.chats = make([]*models.Chat, 0, len(chats))
	for i := range chats {
		s.chats = append(s.chats, &chats[i])
	}
	s.folders = make([]*models.Folder, 0, len(folders))
	for i := range folders {
		s.folders = append(s.folders, &folders[i])
	}
	s.mu.Unlock()

	if len(chats) == 0 {
		chat, err := s.CreateChat(s.catalog.DefaultModelKey())
		if err != nil {
			return fmt.Errorf("seed default chat: %w", err)
		}
		log.Printf("chat session: seeded default chat %s", chat.ID)
		return nil
	}

	s.mu.Lock()
	s.currentID = s.chats[0].ID
	s.mu.Unlock()
	return nil
}

// Chats returns the mirror sorted favorites-first, then by recency.
func (s *chatSessionService) Chats() []models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedChatsLocked()
}

func (s *chatSessionService) sortedChatsLocked() []models.Chat {
	out := make([]models.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Favorite != out[j].Favorite {
			return out[i].Favorite
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (s *chatSessionService) Folders() []models.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		out = append(out, *f)
	}
	return out
}

func (s *chatSessionService) CurrentChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

func (s *chatSessionService) SelectChat(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findChatLocked(chatID) == nil {
		return errors.New("chat not found")
	}
	s.currentID = chatID
	return nil
}

// CreateChat inserts a new chat at the head of the list and makes it current.
func (s *chatSessionService) CreateChat(modelKey string) (*models.Chat, error) {
	if strings.TrimSpace(modelKey) == "" {
		return nil, errors.New("model is required")
	}

	now := time.Now()
	chat := &models.Chat{
		ID:        uuid.NewString(),
		Title:     models.DefaultChatTitle,
		Model:     modelKey,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.chats = append([]*models.Chat{chat}, s.chats...)
	s.hydrated[chat.ID] = true
	s.currentID = chat.ID
	s.mu.Unlock()

	if _, err := s.repo.SaveChat(s.ctx, chat); err != nil {
		log.Printf("chat session: persist new chat: %v", err)
	}
	s.emitter.Emit(s.ctx, events.ChatUpdated, events.NewSuccess("chat created"))
	copied := *chat
	return &copied, nil
}

func (s *chatSessionService) RenameChat(chatID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title is required")
	}

	s.mu.Lock()
	chat := s.findChatLocked(chatID)
	if chat == nil {
		s.mu.Unlock()
		return errors.New("chat not found")
	}
	chat.Title = title
	chat.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.persistChatField(chatID, map[string]any{"title": title})
	return nil
}

func (s *chatSessionService) ChangeModel(chatID, modelKey string) error {
	if _, err := s.catalog.GetModel(modelKey); err != nil {
		return err
	}

	s.mu.Lock()
	chat := s.findChatLocked(chatID)
	if chat == nil {
		s.mu.Unlock()
		return errors.New("chat not found")
	}
	chat.Model = modelKey
	chat.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.persistChatField(chatID, map[string]any{"model": modelKey})
	return nil
}

// DeleteChat removes the chat everywhere. When the deleted chat was current,
// selection moves to the most recent remaining chat, or a fresh default chat
// when none remain.
func (s *chatSessionService) DeleteChat(chatID string) error {
	s.StopGeneration(chatID)

	s.mu.Lock()
	chat := s.findChatLocked(chatID)
	if chat == nil {
		s.mu.Unlock()
		return errors.New("chat not found")
	}
	kept := s.chats[:0]
	for _, c := range s.chats {
		if c.ID != chatID {
			kept = append(kept, c)
		}
	}
	s.chats = kept
	delete(s.hydrated, chatID)
	for _, f := range s.folders {
		f.ChatIDs = f.ChatIDs.Without(chatID)
	}
	wasCurrent := s.currentID == chatID
	var nextID string
	if wasCurrent && len(s.chats) > 0 {
		nextID = s.sortedChatsLocked()[0].ID
		s.currentID = nextID
	}
	remaining := len(s.chats)
	s.mu.Unlock()

	if err := s.repo.DeleteChat(s.ctx, chatID); err != nil {
		log.Printf("chat session: delete chat: %v", err)
	}
	s.emitter.Emit(s.ctx, events.ChatDeleted, events.NewInfo("chat deleted"))

	if wasCurrent && remaining == 0 {
		if _, err := s.CreateChat(s.catalog.DefaultModelKey()); err != nil {
			return err
		}
	}
	return nil
}

// ToggleFavorite flips the flag from the mirror's current truth, so rapid
// double-invocation settles on the value the user last saw toggled.
func (s *chatSessionService) ToggleFavorite(chatID string) (bool, error) {
	s.mu.Lock()
	chat := s.findChatLocked(chatID)
	if chat == nil {
		s.mu.Unlock()
		return false, errors.New("chat not found")
	}
	chat.Favorite = !chat.Favorite
	newValue := chat.Favorite
	s.mu.Unlock()

	s.persistChatField(chatID, map[string]any{"favorite": newValue})
	return newValue, nil
}

func (s *chatSessionService) CreateFolder(name string) (*models.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("folder name is required")
	}

	now := time.Now()
	folder := &models.Folder{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	folder.Position = len(s.folders)
	s.folders = append(s.folders, folder)
	s.mu.Unlock()

	if _, err := s.repo.SaveFolder(s.ctx, folder); err != nil {
		log.Printf("chat session: persist folder: %v", err)
	}
	s.emitter.Emit(s.ctx, events.FolderUpdated, events.NewSuccess("folder created"))
	copied := *folder
	return &copied, nil
}

func (s *chatSessionService) RenameFolder(folderID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("folder name is required")
	}

	s.mu.Lock()
	folder := s.findFolderLocked(folderID)
	if folder == nil {
		s.mu.Unlock()
		return errors.New("folder not found")
	}
	folder.Name = name
	folder.UpdatedAt = time.Now()
	snapshot := *folder
	s.mu.Unlock()

	if _, err := s.repo.SaveFolder(s.ctx, &snapshot); err != nil {
		log.Printf("chat session: persist folder rename: %v", err)
	}
	s.emitter.Emit(s.ctx, events.FolderUpdated, events.NewSuccess("folder renamed"))
	return nil
}

// DeleteFolder removes the folder; member chats stay and lose only their
// folder reference.
func (s *chatSessionService) DeleteFolder(folderID string) error {
	s.mu.Lock()
	folder := s.findFolderLocked(folderID)
	if folder == nil {
		s.mu.Unlock()
		return errors.New("folder not found")
	}
	kept := s.folders[:0]
	for _, f := range s.folders {
		if f.ID != folderID {
			kept = append(kept, f)
		}
	}
	s.folders = kept
	for _, c := range s.chats {
		if c.FolderID == folderID {
			c.FolderID = ""
		}
	}
	s.mu.Unlock()

	if err := s.repo.DeleteFolder(s.ctx, folderID); err != nil {
		log.Printf("chat session: delete folder: %v", err)
	}
	s.emitter.Emit(s.ctx, events.FolderUpdated, events.NewInfo("folder deleted"))
	return nil
}

// MoveChatToFolder updates both sides of the membership invariant through the
// repository's single move operation, then mirrors the result.
func (s *chatSessionService) MoveChatToFolder(chatID, folderID string) error {
	s.mu.Lock()
	chat := s.findChatLocked(chatID)
	if chat == nil {
		s.mu.Unlock()
		return errors.New("chat not found")
	}
	if folderID != "" && s.findFolderLocked(folderID) == nil {
		s.mu.Unlock()
		return errors.New("folder not found")
	}
	for _, f := range s.folders {
		f.ChatIDs = f.ChatIDs.Without(chatID)
		if f.ID == folderID {
			f.ChatIDs = f.ChatIDs.With(chatID)
		}
	}
	chat.FolderID = folderID
	chat.UpdatedAt = time.Now()
	s.mu.Unlock()

	if err := s.repo.MoveChatToFolder(s.ctx, chatID, folderID); err != nil {
		log.Printf("chat session: move chat to folder: %v", err)
	}
	s.emitter.Emit(s.ctx, events.FolderUpdated, events.NewSuccess("chat moved"))
	return nil
}

func (s *chatSessionService) ReorderFolders(orderedIDs []string) error {
	s.mu.Lock()
	byID := make(map[string]*models.Folder, len(s.folders))
	for _, f := range s.folders {
		byID[f.ID] = f
	}
	reordered := make([]*models.Folder, 0, len(s.folders))
	for i, id := range orderedIDs {
		if f, ok := byID[id]; ok {
			f.Position = i
			reordered = append(reordered, f)
			delete(byID, id)
		}
	}
	// Folders missing from the request keep their relative order at the end.
	for _, f := range s.folders {
		if _, left := byID[f.ID]; left {
			f.Position = len(reordered)
			reordered = append(reordered, f)
		}
	}
	s.folders = reordered
	// Persist the full recomputed order, not just the ids named in the
	// request, so a reload sees the same sequence as the mirror.
	fullOrder := make([]string, len(reordered))
	for i, f := range reordered {
		fullOrder[i] = f.ID
	}
	s.mu.Unlock()

	if err := s.repo.ReorderFolders(s.ctx, fullOrder); err != nil {
		log.Printf("chat session: reorder folders: %v", err)
	}
	return nil
}

// Messages returns the chat's messages, hydrating them from the repository on
// first access.
func (s *chatSessionService) Messages(chatID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.findChatLocked(chatID)
	if chat == nil {
		return nil, errors.New("chat not found")
	}
	if err := s.hydrateLocked(chat); err != nil {
		return nil, err
	}
	out := make([]models.Message, len(chat.Messages))
	copy(out, chat.Messages)
	return out, nil
}

// AddMessage appends a message. While the chat still carries the default
// title, the first user message donates its prefix as the title.
func (s *chatSessionService) AddMessage(chatID, content, role string) (*models.Message, error) {
	switch role {
	case models.RoleUser, models.RoleAssistant, models.RoleSystem:
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	s.mu.Lock()
	chat := s.findChatLocked(chatID)
	if chat == nil {
		s.mu.Unlock()
		return nil, errors.New("chat not found")
	}
	if err := s.hydrateLocked(chat); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	chat.Messages = append(chat.Messages, msg)
	chat.UpdatedAt = msg.CreatedAt

	retitled := false
	if role == models.RoleUser && chat.Title == models.DefaultChatTitle && s.settings.Get().AutoTitle {
		chat.Title = deriveTitle(content)
		retitled = true
	}
	chatSnapshot := *chat
	s.mu.Unlock()

	if _, err := s.repo.SaveMessage(s.ctx, &msg); err != nil {
		log.Printf("chat session: persist message: %v", err)
	}
	if retitled {
		if _, err := s.repo.SaveChat(s.ctx, &chatSnapshot); err != nil {
			log.Printf("chat session: persist retitled chat: %v", err)
		}
	}
	s.emitter.Emit(events.WithChat(s.ctx, chatID), events.ChatUpdated, events.NewInfo("message added"))
	return &msg, nil
}

func (s *chatSessionService) UpdateMessage(chatID, messageID, newContent string) error {
	s.mu.Lock()
	chat := s.findChatLocked(chatID)
	if chat == nil {
		s.mu.Unlock()
		return errors.New("chat not found")
	}
	if err := s.hydrateLocked(chat); err != nil {
		s.mu.Unlock()
		return err
	}
	var updated *models.Message
	for i := range chat.Messages {
		if chat.Messages[i].ID == messageID {
			chat.Messages[i].Content = newContent
			snapshot := chat.Messages[i]
			updated = &snapshot
			break
		}
	}
	s.mu.Unlock()

	if updated == nil {
		return errors.New("message not found")
	}
	if _, err := s.repo.SaveMessage(s.ctx, updated); err != nil {
		log.Printf("chat session: persist message edit: %v", err)
	}
	return nil
}

func (s *chatSessionService) ClearMessages(chatID string) error {
	s.mu.Lock()
	chat := s.findChatLocked(chatID)
	if chat == nil {
		s.mu.Unlock()
		return errors.New("chat not found")
	}
	chat.Messages = nil
	chat.PinnedMessageIDs = models.IDList{}
	s.hydrated[chatID] = true
	s.mu.Unlock()

	if err := s.repo.ClearChatMessages(s.ctx, chatID); err != nil {
		log.Printf("chat session: clear messages: %v", err)
	}
	s.emitter.Emit(events.WithChat(s.ctx, chatID), events.ChatUpdated, events.NewInfo("messages cleared"))
	return nil
}

// TogglePinMessage flips the message flag and the chat's pin cache together;
// the repository does the same pair transactionally on disk.
func (s *chatSessionService) TogglePinMessage(chatID, messageID string) error {
	s.mu.Lock()
	chat := s.findChatLocked(chatID)
	if chat == nil {
		s.mu.Unlock()
		return errors.New("chat not found")
	}
	if err := s.hydrateLocked(chat); err != nil {
		s.mu.Unlock()
		return err
	}
	found := false
	var pinned bool
	for i := range chat.Messages {
		if chat.Messages[i].ID == messageID {
			chat.Messages[i].IsPinned = !chat.Messages[i].IsPinned
			pinned = chat.Messages[i].IsPinned
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return errors.New("message not found")
	}
	chat.PinnedMessageIDs = chat.PinnedMessageIDs.Without(messageID)
	if pinned {
		chat.PinnedMessageIDs = chat.PinnedMessageIDs.With(messageID)
	}
	s.mu.Unlock()

	if err := s.repo.SetMessagePinned(s.ctx, chatID, messageID, pinned); err != nil {
		log.Printf("chat session: persist pin toggle: %v", err)
	}
	return nil
}

// SearchChats matches the query case-insensitively against chat titles and
// message contents. A blank query returns the full sorted list.
func (s *chatSessionService) SearchChats(query string) []models.Chat {
	query = strings.ToLower(strings.TrimSpace(query))

	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := s.sortedChatsLocked()
	if query == "" {
		return sorted
	}

	var out []models.Chat
	for _, snapshot := range sorted {
		if strings.Contains(strings.ToLower(snapshot.Title), query) {
			out = append(out, snapshot)
			continue
		}
		chat := s.findChatLocked(snapshot.ID)
		if err := s.hydrateLocked(chat); err != nil {
			log.Printf("chat session: hydrate for search: %v", err)
			continue
		}
		for _, msg := range chat.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				out = append(out, *chat)
				break
			}
		}
	}
	return out
}

func (s *chatSessionService) findChatLocked(chatID string) *models.Chat {
	for _, c := range s.chats {
		if c.ID == chatID {
			return c
		}
	}
	return nil
}

func (s *chatSessionService) findFolderLocked(folderID string) *models.Folder {
	for _, f := range s.folders {
		if f.ID == folderID {
			return f
		}
	}
	return nil
}

func (s *chatSessionService) hydrateLocked(chat *models.Chat) error {
	if chat == nil {
		return errors.New("chat not found")
	}
	if s.hydrated[chat.ID] {
		return nil
	}
	msgs, err := s.repo.GetChatMessages(s.ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("hydrate chat %s: %w", chat.ID, err)
	}
	chat.Messages = msgs
	s.hydrated[chat.ID] = true
	return nil
}

func (s *chatSessionService) persistChatField(chatID string, updates map[string]any) {
	if err := s.repo.UpdateChat(s.ctx, chatID, updates); err != nil {
		log.Printf("chat session: persist chat update: %v", err)
	}
	s.emitter.Emit(events.WithChat(s.ctx, chatID), events.ChatUpdated, events.NewInfo("chat updated"))
}

func deriveTitle(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= titleMaxRunes {
		return string(runes)
	}
	return string(runes[:titleMaxRunes]) + "..."
}
