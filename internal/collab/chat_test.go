package collab

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatService_PostAndHistory(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	room := fx.createRoom(ctx, owner, "Alpha")

	first, err := fx.chat.Post(ctx, room.ID, owner, "hello", false)
	require.NoError(t, err)
	assert.Equal(t, "Owner", first.Username)
	assert.False(t, first.IsAI)

	_, err = fx.chat.Post(ctx, room.ID, owner, "summarized", true)
	require.NoError(t, err)

	messages, err := fx.chat.History(ctx, room.ID, owner)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, "summarized", messages[1].Content)
	assert.True(t, messages[1].IsAI)
}

func TestChatService_PostRequiresMembership(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	outsider := fx.addUser("outsider@example.com", "Outsider")
	room := fx.createRoom(ctx, owner, "Alpha")

	_, err := fx.chat.Post(ctx, room.ID, outsider, "hi", false)
	assert.ErrorIs(t, err, ErrNotAMember)

	_, err = fx.chat.History(ctx, room.ID, outsider)
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestChatService_PostRejectsEmptyContent(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	room := fx.createRoom(ctx, owner, "Alpha")

	_, err := fx.chat.Post(ctx, room.ID, owner, "   ", false)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestChatService_SubscribeMessagesFiltersByRoom(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	other := fx.addUser("other@example.com", "Other")
	room := fx.createRoom(ctx, owner, "Alpha")
	otherRoom := fx.createRoom(ctx, other, "Beta")

	var received []*Message
	sub, err := fx.chat.SubscribeMessages(ctx, room.ID, func(message *Message) {
		received = append(received, message)
	})
	require.NoError(t, err)
	defer sub.Stop()

	_, err = fx.chat.Post(ctx, otherRoom.ID, other, "elsewhere", false)
	require.NoError(t, err)
	assert.Empty(t, received)

	_, err = fx.chat.Post(ctx, room.ID, owner, "here", false)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "here", received[0].Content)
}

func TestChatService_ShareTruncatesCode(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	room := fx.createRoom(ctx, owner, "Alpha")

	long := strings.Repeat("x", MaxSharedCodeLength+500)
	output, err := fx.chat.Share(ctx, room.ID, owner, long, "ok", "go")
	require.NoError(t, err)
	assert.Len(t, output.Code, MaxSharedCodeLength)
	assert.Equal(t, "go", output.Language)
	assert.Equal(t, "Owner", output.Username)
}

func TestChatService_ShareTruncatesOnRuneBoundary(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	room := fx.createRoom(ctx, owner, "Alpha")

	// The cap lands in the middle of the first multi-byte rune.
	code := strings.Repeat("a", MaxSharedCodeLength-1) + "世界"
	output, err := fx.chat.Share(ctx, room.ID, owner, code, "ok", "go")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(output.Code))
	assert.Equal(t, MaxSharedCodeLength, utf8.RuneCountInString(output.Code))
	assert.Equal(t, strings.Repeat("a", MaxSharedCodeLength-1)+"世", output.Code)
}

func TestChatService_RecentOutputsLimited(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	room := fx.createRoom(ctx, owner, "Alpha")

	for i := 0; i < 25; i++ {
		require.NoError(t, fx.repo.CreateOutput(ctx, &Output{
			ID: uuid.New(), RoomID: room.ID, UserID: owner.UserID,
			Username: "Owner", Code: "print()", Output: "ok",
			Language: "python", CreatedAt: time.Now(),
		}))
	}

	outputs, err := fx.chat.RecentOutputs(ctx, room.ID, owner)
	require.NoError(t, err)
	assert.Len(t, outputs, 20)
}

func TestChatService_SubscribeOutputsDelivers(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	room := fx.createRoom(ctx, owner, "Alpha")

	var received []*Output
	sub, err := fx.chat.SubscribeOutputs(ctx, room.ID, func(output *Output) {
		received = append(received, output)
	})
	require.NoError(t, err)
	defer sub.Stop()

	_, err = fx.chat.Share(ctx, room.ID, owner, "1+1", "2", "python")
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "2", received[0].Output)
}
