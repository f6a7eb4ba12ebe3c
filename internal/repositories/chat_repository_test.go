package repositories_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"chatvault/internal/database"
	"chatvault/internal/models"
	"chatvault/internal/repositories"
)

func newTestRepo(t *testing.T) repositories.ChatRepository {
	t.Helper()
	db, err := database.Init(database.Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	return repositories.NewChatRepository(db)
}

func testChat(id string) *models.Chat {
	return &models.Chat{
		ID:    id,
		Title: models.DefaultChatTitle,
		Model: "openai/gpt-4o",
	}
}

func TestSaveChat_DoesNotEmbedMessages(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	chat := testChat("c1")
	chat.Messages = []models.Message{{ID: "m1", ChatID: "c1", Role: models.RoleUser, Content: "hi"}}
	_, err := repo.SaveChat(ctx, chat)
	require.NoError(t, err)

	loaded, err := repo.GetChat(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Empty(t, loaded.Messages)

	// Persisted messages survive a later chat-level save.
	_, err = repo.SaveMessage(ctx, &models.Message{ID: "m1", ChatID: "c1", Role: models.RoleUser, Content: "hi"})
	require.NoError(t, err)
	chat.Title = "renamed"
	_, err = repo.SaveChat(ctx, chat)
	require.NoError(t, err)

	msgs, err := repo.GetChatMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestGetChat_NotFoundIsNil(t *testing.T) {
	repo := newTestRepo(t)

	chat, err := repo.GetChat(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, chat)
}

func TestGetAllChats_OrderedByRecency(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SaveChat(ctx, testChat("older"))
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = repo.SaveChat(ctx, testChat("newer"))
	require.NoError(t, err)

	chats, err := repo.GetAllChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "newer", chats[0].ID)
	assert.Equal(t, "older", chats[1].ID)
}

func TestSaveMessage_TouchesOnlyChatTimestamp(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	chat := testChat("c1")
	chat.Title = "keep me"
	_, err := repo.SaveChat(ctx, chat)
	require.NoError(t, err)
	before, err := repo.GetChat(ctx, "c1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = repo.SaveMessage(ctx, &models.Message{ID: "m1", ChatID: "c1", Role: models.RoleUser, Content: "hi"})
	require.NoError(t, err)

	after, err := repo.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "keep me", after.Title)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestGetChatMessages_DeterministicOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SaveChat(ctx, testChat("c1"))
	require.NoError(t, err)

	base := time.Now()
	for i, id := range []string{"m3", "m1", "m2"} {
		offsets := map[string]time.Duration{"m1": 1, "m2": 2, "m3": 3}
		_, err := repo.SaveMessage(ctx, &models.Message{
			ID:        id,
			ChatID:    "c1",
			Role:      models.RoleUser,
			Content:   id,
			CreatedAt: base.Add(offsets[id] * time.Second),
		})
		require.NoError(t, err, "message %d", i)
	}

	msgs, err := repo.GetChatMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "m3", msgs[2].ID)
}

func TestDeleteChat_CascadesMessagesAndFolderMembership(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	folder := &models.Folder{ID: "f1", Name: "work"}
	_, err := repo.SaveFolder(ctx, folder)
	require.NoError(t, err)
	_, err = repo.SaveChat(ctx, testChat("c1"))
	require.NoError(t, err)
	require.NoError(t, repo.MoveChatToFolder(ctx, "c1", "f1"))
	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := repo.SaveMessage(ctx, &models.Message{ID: id, ChatID: "c1", Role: models.RoleUser, Content: id})
		require.NoError(t, err)
	}

	require.NoError(t, repo.DeleteChat(ctx, "c1"))

	chat, err := repo.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, chat)
	msgs, err := repo.GetChatMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	folders, err := repo.GetAllFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.False(t, folders[0].ChatIDs.Contains("c1"))
}

func TestMoveChatToFolder_UpdatesBothSides(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SaveFolder(ctx, &models.Folder{ID: "f1", Name: "one"})
	require.NoError(t, err)
	_, err = repo.SaveFolder(ctx, &models.Folder{ID: "f2", Name: "two"})
	require.NoError(t, err)
	_, err = repo.SaveChat(ctx, testChat("c1"))
	require.NoError(t, err)

	require.NoError(t, repo.MoveChatToFolder(ctx, "c1", "f1"))
	require.NoError(t, repo.MoveChatToFolder(ctx, "c1", "f2"))

	chat, err := repo.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "f2", chat.FolderID)

	folders, err := repo.GetAllFolders(ctx)
	require.NoError(t, err)
	for _, f := range folders {
		if f.ID == "f2" {
			assert.True(t, f.ChatIDs.Contains("c1"))
		} else {
			assert.False(t, f.ChatIDs.Contains("c1"), "chat left behind in %s", f.ID)
		}
	}

	// And out of any folder.
	require.NoError(t, repo.MoveChatToFolder(ctx, "c1", ""))
	chat, err = repo.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, chat.FolderID)
}

func TestGetChatsByFolder_FiltersByMembership(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SaveFolder(ctx, &models.Folder{ID: "f1", Name: "work"})
	require.NoError(t, err)
	for _, id := range []string{"c1", "c2", "c3"} {
		_, err = repo.SaveChat(ctx, testChat(id))
		require.NoError(t, err)
	}
	require.NoError(t, repo.MoveChatToFolder(ctx, "c1", "f1"))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.MoveChatToFolder(ctx, "c3", "f1"))

	chats, err := repo.GetChatsByFolder(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "c3", chats[0].ID)
	assert.Equal(t, "c1", chats[1].ID)

	empty, err := repo.GetChatsByFolder(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = repo.GetChatsByFolder(ctx, "")
	assert.Error(t, err)
}

func TestReorderFolders_AssignsSequentialPositions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i, name := range []string{"a", "b", "c"} {
		_, err := repo.SaveFolder(ctx, &models.Folder{ID: name, Name: name, Position: i})
		require.NoError(t, err)
	}

	require.NoError(t, repo.ReorderFolders(ctx, []string{"c", "a", "b"}))

	folders, err := repo.GetAllFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 3)
	for i, want := range []string{"c", "a", "b"} {
		assert.Equal(t, want, folders[i].ID)
		assert.Equal(t, i, folders[i].Position)
	}
}

func TestSetMessagePinned_KeepsCacheInSync(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SaveChat(ctx, testChat("c1"))
	require.NoError(t, err)
	for _, id := range []string{"m1", "m2"} {
		_, err := repo.SaveMessage(ctx, &models.Message{ID: id, ChatID: "c1", Role: models.RoleUser, Content: id})
		require.NoError(t, err)
	}

	require.NoError(t, repo.SetMessagePinned(ctx, "c1", "m1", true))
	require.NoError(t, repo.SetMessagePinned(ctx, "c1", "m2", true))
	require.NoError(t, repo.SetMessagePinned(ctx, "c1", "m1", false))

	chat, err := repo.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.IDList{"m2"}, chat.PinnedMessageIDs)

	msgs, err := repo.GetChatMessages(ctx, "c1")
	require.NoError(t, err)
	pinned := models.IDList{}
	for _, m := range msgs {
		if m.IsPinned {
			pinned = pinned.With(m.ID)
		}
	}
	assert.Equal(t, chat.PinnedMessageIDs, pinned)
}

func TestClearChatMessages_ResetsPinCache(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SaveChat(ctx, testChat("c1"))
	require.NoError(t, err)
	_, err = repo.SaveMessage(ctx, &models.Message{ID: "m1", ChatID: "c1", Role: models.RoleUser, Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, repo.SetMessagePinned(ctx, "c1", "m1", true))

	require.NoError(t, repo.ClearChatMessages(ctx, "c1"))

	msgs, err := repo.GetChatMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	chat, err := repo.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, chat.PinnedMessageIDs)
}

func TestDeleteFolder_KeepsChats(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SaveFolder(ctx, &models.Folder{ID: "f1", Name: "work"})
	require.NoError(t, err)
	_, err = repo.SaveChat(ctx, testChat("c1"))
	require.NoError(t, err)
	require.NoError(t, repo.MoveChatToFolder(ctx, "c1", "f1"))

	require.NoError(t, repo.DeleteFolder(ctx, "f1"))

	folders, err := repo.GetAllFolders(ctx)
	require.NoError(t, err)
	assert.Empty(t, folders)
	chat, err := repo.GetChat(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, chat)
	assert.Empty(t, chat.FolderID)
}

func TestImportLegacyData_RoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	empty, err := repo.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	legacy := []models.Chat{
		{
			ID:    "c1",
			Title: "imported",
			Model: "openai/gpt-4o",
			Messages: []models.Message{
				{ID: "m1", Role: models.RoleUser, Content: "hello", IsPinned: true},
				{ID: "m2", Role: models.RoleAssistant, Content: "hi there"},
			},
		},
		{ID: "c2", Title: "empty chat", Model: "gemini/gemini-2.5-flash"},
	}
	folders := []models.Folder{{ID: "f1", Name: "imported folder", ChatIDs: models.IDList{"c1"}}}

	require.NoError(t, repo.ImportLegacyData(ctx, legacy, folders))

	empty, err = repo.IsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	chats, err := repo.GetAllChats(ctx)
	require.NoError(t, err)
	assert.Len(t, chats, 2)

	msgs, err := repo.GetChatMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	chat, err := repo.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.IDList{"m1"}, chat.PinnedMessageIDs)
}

func TestUnavailableRepository_DegradesToNoops(t *testing.T) {
	repo := repositories.NewChatRepository(nil)
	ctx := context.Background()

	assert.False(t, repo.Available())

	_, err := repo.SaveChat(ctx, testChat("c1"))
	assert.NoError(t, err)
	chat, err := repo.GetChat(ctx, "c1")
	assert.NoError(t, err)
	assert.Nil(t, chat)
	chats, err := repo.GetAllChats(ctx)
	assert.NoError(t, err)
	assert.Empty(t, chats)
	empty, err := repo.IsEmpty(ctx)
	assert.NoError(t, err)
	assert.True(t, empty)
	assert.NoError(t, repo.DeleteChat(ctx, "c1"))
}
