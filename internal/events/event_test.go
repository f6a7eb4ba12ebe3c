package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatvault/internal/events"
)

func TestChatContextRoundTrip(t *testing.T) {
	ctx := events.WithChat(context.Background(), "c1")
	assert.Equal(t, "c1", events.ChatFromContext(ctx))

	assert.Empty(t, events.ChatFromContext(context.Background()))
	assert.Equal(t, context.Background(), events.WithChat(context.Background(), "  "))
}

func TestEmitterFunc_FillsChatIDFromContext(t *testing.T) {
	var got events.Event
	emitter := events.EmitterFunc(func(_ context.Context, _ string, evt events.Event) {
		got = evt
	})

	ctx := events.WithChat(context.Background(), "c1")
	emitter.Emit(ctx, events.ChatUpdated, events.NewInfo("hello"))

	assert.Equal(t, "c1", got.ChatID)
	assert.Equal(t, events.EventInfo, got.Type)
	assert.Equal(t, "hello", got.Message)
	require.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestEmitterFunc_KeepsExplicitChatID(t *testing.T) {
	var got events.Event
	emitter := events.EmitterFunc(func(_ context.Context, _ string, evt events.Event) {
		got = evt
	})

	evt := events.NewError("boom")
	evt.ChatID = "explicit"
	emitter.Emit(events.WithChat(context.Background(), "from-context"), events.GenerateError, evt)

	assert.Equal(t, "explicit", got.ChatID)
}
