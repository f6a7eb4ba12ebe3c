package services_test

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"chatvault/internal/events"
	"chatvault/internal/llm/gateway"
	"chatvault/internal/models"
)

// memRepo is an in-memory ChatRepository that records every message save so
// tests can count write-through flushes.
type memRepo struct {
	mu           sync.Mutex
	chats        map[string]models.Chat
	msgs         map[string][]models.Message
	folders      map[string]models.Folder
	messageSaves []models.Message
}

func newMemRepo() *memRepo {
	return &memRepo{
		chats:   map[string]models.Chat{},
		msgs:    map[string][]models.Message{},
		folders: map[string]models.Folder{},
	}
}

func (r *memRepo) Available() bool { return true }

func (r *memRepo) SaveChat(_ context.Context, chat *models.Chat) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record := *chat
	record.Messages = nil
	r.chats[record.ID] = record
	return record.ID, nil
}

func (r *memRepo) GetChat(_ context.Context, id string) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chat, ok := r.chats[id]; ok {
		return &chat, nil
	}
	return nil, nil
}

func (r *memRepo) GetAllChats(context.Context) ([]models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Chat, 0, len(r.chats))
	for _, c := range r.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *memRepo) GetChatsByFolder(_ context.Context, folderID string) ([]models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Chat
	for _, c := range r.chats {
		if c.FolderID == folderID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateChat(_ context.Context, id string, updates map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[id]
	if !ok {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "title":
			chat.Title = v.(string)
		case "model":
			chat.Model = v.(string)
		case "favorite":
			chat.Favorite = v.(bool)
		case "folder_id":
			chat.FolderID = v.(string)
		}
	}
	r.chats[id] = chat
	return nil
}

func (r *memRepo) DeleteChat(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chats, id)
	delete(r.msgs, id)
	for fid, f := range r.folders {
		f.ChatIDs = f.ChatIDs.Without(id)
		r.folders[fid] = f
	}
	return nil
}

func (r *memRepo) SaveMessage(_ context.Context, msg *models.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageSaves = append(r.messageSaves, *msg)
	existing := r.msgs[msg.ChatID]
	for i := range existing {
		if existing[i].ID == msg.ID {
			existing[i] = *msg
			return msg.ID, nil
		}
	}
	r.msgs[msg.ChatID] = append(existing, *msg)
	return msg.ID, nil
}

func (r *memRepo) GetChatMessages(_ context.Context, chatID string) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Message, len(r.msgs[chatID]))
	copy(out, r.msgs[chatID])
	return out, nil
}

func (r *memRepo) ClearChatMessages(_ context.Context, chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.msgs, chatID)
	if chat, ok := r.chats[chatID]; ok {
		chat.PinnedMessageIDs = models.IDList{}
		r.chats[chatID] = chat
	}
	return nil
}

func (r *memRepo) DeleteMessage(_ context.Context, chatID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.msgs[chatID][:0]
	for _, m := range r.msgs[chatID] {
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	r.msgs[chatID] = kept
	return nil
}

func (r *memRepo) SetMessagePinned(_ context.Context, chatID, messageID string, pinned bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.msgs[chatID] {
		if m.ID == messageID {
			r.msgs[chatID][i].IsPinned = pinned
		}
	}
	chat, ok := r.chats[chatID]
	if !ok {
		return nil
	}
	chat.PinnedMessageIDs = chat.PinnedMessageIDs.Without(messageID)
	if pinned {
		chat.PinnedMessageIDs = chat.PinnedMessageIDs.With(messageID)
	}
	r.chats[chatID] = chat
	return nil
}

func (r *memRepo) SaveFolder(_ context.Context, folder *models.Folder) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.folders[folder.ID] = *folder
	return folder.ID, nil
}

func (r *memRepo) GetAllFolders(context.Context) ([]models.Folder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Folder, 0, len(r.folders))
	for _, f := range r.folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *memRepo) DeleteFolder(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.folders, id)
	for cid, c := range r.chats {
		if c.FolderID == id {
			c.FolderID = ""
			r.chats[cid] = c
		}
	}
	return nil
}

func (r *memRepo) MoveChatToFolder(_ context.Context, chatID, folderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok {
		return nil
	}
	for fid, f := range r.folders {
		f.ChatIDs = f.ChatIDs.Without(chatID)
		if fid == folderID {
			f.ChatIDs = f.ChatIDs.With(chatID)
		}
		r.folders[fid] = f
	}
	chat.FolderID = folderID
	r.chats[chatID] = chat
	return nil
}

func (r *memRepo) ReorderFolders(_ context.Context, orderedIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range orderedIDs {
		if f, ok := r.folders[id]; ok {
			f.Position = i
			r.folders[id] = f
		}
	}
	return nil
}

func (r *memRepo) IsEmpty(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chats) == 0, nil
}

func (r *memRepo) ImportLegacyData(_ context.Context, chats []models.Chat, folders []models.Folder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range folders {
		r.folders[f.ID] = f
	}
	for _, c := range chats {
		msgs := c.Messages
		c.Messages = nil
		r.chats[c.ID] = c
		for _, m := range msgs {
			m.ChatID = c.ID
			r.msgs[c.ID] = append(r.msgs[c.ID], m)
		}
	}
	return nil
}

// savesFor returns the recorded SaveMessage calls for one message id.
func (r *memRepo) savesFor(messageID string) []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Message
	for _, m := range r.messageSaves {
		if m.ID == messageID {
			out = append(out, m)
		}
	}
	return out
}

type fakeKeys struct {
	keys  map[string]string
	onGet func(provider string)
}

func (k *fakeKeys) GetAPIKey(provider string) (string, error) {
	if k.onGet != nil {
		k.onGet(provider)
	}
	return k.keys[provider], nil
}

type fakeSettings struct {
	settings models.Settings
}

func (s *fakeSettings) Startup(context.Context) {}

func (s *fakeSettings) Get() models.Settings { return s.settings }

func (s *fakeSettings) Save(v models.Settings) error {
	s.settings = v
	return nil
}

type fakeProfiles struct {
	current *models.UserProfile
}

func (p *fakeProfiles) Startup(context.Context) {}

func (p *fakeProfiles) List() []models.UserProfile { return nil }

func (p *fakeProfiles) Current() *models.UserProfile { return p.current }

func (p *fakeProfiles) SetCurrent(string) error { return nil }

func (p *fakeProfiles) Create(string) (*models.UserProfile, error) { return nil, nil }

func (p *fakeProfiles) Update(models.UserProfile) error { return nil }

func (p *fakeProfiles) Delete(string) error { return nil }

// fakeGateway delegates to a settable function and records the last request.
type fakeGateway struct {
	mu      sync.Mutex
	stream  func(ctx context.Context, req gateway.Request) (io.ReadCloser, error)
	lastReq *gateway.Request
}

func (g *fakeGateway) Stream(ctx context.Context, req gateway.Request) (io.ReadCloser, error) {
	g.mu.Lock()
	copied := req
	g.lastReq = &copied
	fn := g.stream
	g.mu.Unlock()
	if fn == nil {
		return io.NopCloser(strings.NewReader("data: [DONE]\n")), nil
	}
	return fn(ctx, req)
}

func (g *fakeGateway) last() *gateway.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReq
}

type recordedEvent struct {
	Name  string
	Event events.Event
}

// eventRecorder captures emitted events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Emit(_ context.Context, name string, evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Name: name, Event: evt})
}

func (r *eventRecorder) named(name string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
