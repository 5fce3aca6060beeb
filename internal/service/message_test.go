package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/infra/state/memory"
	"github.com/sk-edz-web/sk.chat/internal/service"
	"github.com/sk-edz-web/sk.chat/internal/store"
)

func newMessageFixture(t *testing.T) (*service.MessageService, *service.RoomService, string) {
	t.Helper()
	st := memory.New()
	rooms := service.NewRoomService(st)
	roomID, err := rooms.CreateRoom(context.Background(), service.CreateRoomInput{
		Name: "General", Type: domain.RoomPublic, CreatorUID: "u1", CreatorName: "Alice",
	})
	require.NoError(t, err)
	return service.NewMessageService(st), rooms, roomID
}

func TestMessageService_SendMessage_OrderedByTimestamp(t *testing.T) {
	// Arrange
	messages, _, roomID := newMessageFixture(t)
	ctx := context.Background()

	var lastTS int64
	for i := 0; i < 5; i++ {
		_, ts, err := messages.SendMessage(ctx, roomID, "u1", "Alice", "A", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
		assert.Greater(t, ts, lastTS, "提交时间戳应严格单调递增")
		lastTS = ts
	}

	// Act: 订阅应立即交付按时间戳升序的完整流
	var got []domain.Message
	cancel, err := messages.SubscribeMessages(ctx, roomID, func(ms []domain.Message) { got = ms })
	require.NoError(t, err)
	defer cancel()

	// Assert
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Timestamp, got[i].Timestamp, "交付顺序应按时间戳排序")
	}
	assert.Equal(t, "msg 0", got[0].Text)
	assert.Equal(t, "msg 4", got[4].Text)
}

func TestMessageService_SendMessage_RejectsEmptyText(t *testing.T) {
	messages, _, roomID := newMessageFixture(t)

	_, _, err := messages.SendMessage(context.Background(), roomID, "u1", "Alice", "A", "   ")

	require.Error(t, err, "空白消息应被拒绝")
	assert.True(t, errors.Is(err, service.ErrValidation))
}

func TestMessageService_SendMessage_UpdatesRoomSummary(t *testing.T) {
	messages, rooms, roomID := newMessageFixture(t)
	ctx := context.Background()

	_, ts, err := messages.SendMessage(ctx, roomID, "u1", "Alice", "A", "hello there")
	require.NoError(t, err)

	room, err := rooms.GetRoomInfo(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "hello there", room.LastMessage, "房间摘要应反映最近一条消息")
	assert.GreaterOrEqual(t, room.LastMessageTime, ts, "摘要时间戳不应早于消息提交时间戳")
}

func TestMessageService_ToggleReaction_Parity(t *testing.T) {
	// 同一用户连续切换：奇数次在集合内，偶数次不在
	messages, _, roomID := newMessageFixture(t)
	ctx := context.Background()
	msgID, _, err := messages.SendMessage(ctx, roomID, "u1", "Alice", "A", "react to me")
	require.NoError(t, err)

	present, err := messages.ToggleReaction(ctx, roomID, msgID, "👍", "u2")
	require.NoError(t, err)
	assert.True(t, present, "第一次切换后应在集合内")

	present, err = messages.ToggleReaction(ctx, roomID, msgID, "👍", "u2")
	require.NoError(t, err)
	assert.False(t, present, "第二次切换后应不在集合内")

	present, err = messages.ToggleReaction(ctx, roomID, msgID, "👍", "u2")
	require.NoError(t, err)
	assert.True(t, present, "第三次切换后应再次在集合内")
}

func TestMessageService_ToggleReaction_DistinctUsersAccumulate(t *testing.T) {
	// 不同用户对同一表情的切换互不干扰
	messages, _, roomID := newMessageFixture(t)
	ctx := context.Background()
	msgID, _, err := messages.SendMessage(ctx, roomID, "u1", "Alice", "A", "popular message")
	require.NoError(t, err)

	_, err = messages.ToggleReaction(ctx, roomID, msgID, "🎉", "u2")
	require.NoError(t, err)
	_, err = messages.ToggleReaction(ctx, roomID, msgID, "🎉", "u3")
	require.NoError(t, err)

	var got []domain.Message
	cancel, err := messages.SubscribeMessages(ctx, roomID, func(ms []domain.Message) { got = ms })
	require.NoError(t, err)
	defer cancel()

	require.Len(t, got, 1)
	require.Contains(t, got[0].Reactions, "🎉")
	assert.Len(t, got[0].Reactions["🎉"], 2, "两个用户的反应应同时存在")
	assert.True(t, got[0].Reactions["🎉"]["u2"])
	assert.True(t, got[0].Reactions["🎉"]["u3"])
}

func TestMessageService_DeleteThenToggle_DoesNotRecreate(t *testing.T) {
	// 删除后迟到的反应切换不应重建消息
	messages, _, roomID := newMessageFixture(t)
	ctx := context.Background()
	msgID, _, err := messages.SendMessage(ctx, roomID, "u1", "Alice", "A", "short lived")
	require.NoError(t, err)

	require.NoError(t, messages.DeleteMessage(ctx, roomID, msgID))

	present, err := messages.ToggleReaction(ctx, roomID, msgID, "👍", "u2")
	require.NoError(t, err, "对已删除消息的切换应是无害空操作")
	assert.False(t, present)

	_, err = messages.GetMessage(ctx, roomID, msgID)
	assert.True(t, errors.Is(err, store.ErrAbsent), "消息不应被重建")

	var got []domain.Message
	cancel, err := messages.SubscribeMessages(ctx, roomID, func(ms []domain.Message) { got = ms })
	require.NoError(t, err)
	defer cancel()
	assert.Empty(t, got, "订阅视图中不应出现已删除的消息")
}

func TestMessageService_DeleteMessage_RemovesReactions(t *testing.T) {
	messages, _, roomID := newMessageFixture(t)
	ctx := context.Background()
	msgID, _, err := messages.SendMessage(ctx, roomID, "u1", "Alice", "A", "with reactions")
	require.NoError(t, err)
	_, err = messages.ToggleReaction(ctx, roomID, msgID, "👍", "u2")
	require.NoError(t, err)

	require.NoError(t, messages.DeleteMessage(ctx, roomID, msgID))

	var got []domain.Message
	cancel, err := messages.SubscribeMessages(ctx, roomID, func(ms []domain.Message) { got = ms })
	require.NoError(t, err)
	defer cancel()
	assert.Empty(t, got, "删除应带走整个 reactions 子树，不留孤儿叶子")
}
