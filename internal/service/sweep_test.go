package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/infra/state/memory"
	"github.com/sk-edz-web/sk.chat/internal/service"
)

// 远在所有已分配时间戳之后的清扫基准线
func futureCutoff() int64 {
	return time.Now().Add(time.Hour).UnixMilli()
}

func TestTypingService_SweepStaleTypists(t *testing.T) {
	st := memory.New()
	typing := service.NewTypingService(st)
	ctx := context.Background()

	require.NoError(t, typing.SetTyping(ctx, "room1", "u1", "Alice", true))
	require.NoError(t, typing.SetTyping(ctx, "room2", "u2", "Bob", true))

	// Act: 所有记录都早于基准线，应全部清除
	removed, err := typing.SweepStaleTypists(ctx, futureCutoff())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	var typists []domain.Typist
	cancel, err := typing.SubscribeTyping(ctx, "room1", "observer", func(ts []domain.Typist) { typists = ts })
	require.NoError(t, err)
	defer cancel()
	assert.Empty(t, typists)
}

func TestTypingService_SweepKeepsFreshTypists(t *testing.T) {
	st := memory.New()
	typing := service.NewTypingService(st)
	ctx := context.Background()

	require.NoError(t, typing.SetTyping(ctx, "room1", "u1", "Alice", true))

	// 基准线在过去，没有记录算陈旧
	removed, err := typing.SweepStaleTypists(ctx, time.Now().Add(-time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Zero(t, removed, "新鲜的指示不应被清除")
}

func TestPresenceService_SweepStalePresence(t *testing.T) {
	st := memory.New()
	presence := service.NewPresenceService(st)
	ctx := context.Background()

	require.NoError(t, presence.BeginSession(ctx, "u1", nil))
	require.NoError(t, presence.EndSession(ctx, "u2")) // 已下线的用户不受影响

	swept, err := presence.SweepStalePresence(ctx, futureCutoff())
	require.NoError(t, err)
	assert.Equal(t, 1, swept, "只有仍标记在线的失联用户会被回收")

	var got map[string]domain.Presence
	cancel, err := presence.SubscribePresence(ctx, func(p map[string]domain.Presence) { got = p })
	require.NoError(t, err)
	defer cancel()
	assert.False(t, got["u1"].Online)
	assert.False(t, got["u2"].Online)
}

func TestRoomService_ReconcileOrphanRooms(t *testing.T) {
	st := memory.New()
	rooms := service.NewRoomService(st)
	ctx := context.Background()

	// 零成员的房间：创建后所有人退出
	orphanID, err := rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name: "Ghost", Type: domain.RoomPublic, CreatorUID: "u1",
	})
	require.NoError(t, err)
	require.NoError(t, rooms.LeaveRoom(ctx, orphanID, "u1"))

	// 有成员但没有 admin 的房间：不在回收范围
	keptID, err := rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name: "Leaderless", Type: domain.RoomPublic, CreatorUID: "u2",
	})
	require.NoError(t, err)
	require.NoError(t, rooms.JoinRoom(ctx, keptID, "u3", "Carol", "C", ""))
	require.NoError(t, rooms.LeaveRoom(ctx, keptID, "u2"))

	// Act
	reclaimed, err := rooms.ReconcileOrphanRooms(ctx, futureCutoff())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	_, err = rooms.GetRoomInfo(ctx, orphanID)
	assert.True(t, errors.Is(err, service.ErrRoomNotFound), "零成员房间应被回收")

	_, err = rooms.GetRoomInfo(ctx, keptID)
	assert.NoError(t, err, "有成员的房间必须保留")
}

func TestRoomService_ReconcileRespectsGracePeriod(t *testing.T) {
	st := memory.New()
	rooms := service.NewRoomService(st)
	ctx := context.Background()

	roomID, err := rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name: "Fresh", Type: domain.RoomPublic, CreatorUID: "u1",
	})
	require.NoError(t, err)
	require.NoError(t, rooms.LeaveRoom(ctx, roomID, "u1"))

	// 基准线在过去：宽限期内的零成员房间不回收
	reclaimed, err := rooms.ReconcileOrphanRooms(ctx, time.Now().Add(-time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	_, err = rooms.GetRoomInfo(ctx, roomID)
	assert.NoError(t, err)
}

func TestReconcile_RemovesMessageStream(t *testing.T) {
	st := memory.New()
	rooms := service.NewRoomService(st)
	messages := service.NewMessageService(st)
	ctx := context.Background()

	roomID, err := rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name: "Ghost", Type: domain.RoomPublic, CreatorUID: "u1",
	})
	require.NoError(t, err)
	_, _, err = messages.SendMessage(ctx, roomID, "u1", "Alice", "A", "lingering")
	require.NoError(t, err)
	require.NoError(t, rooms.LeaveRoom(ctx, roomID, "u1"))

	_, err = rooms.ReconcileOrphanRooms(ctx, futureCutoff())
	require.NoError(t, err)

	snap, err := st.ReadTree(ctx, "messages/"+roomID)
	require.NoError(t, err)
	assert.Empty(t, snap, "回收应带走房间的消息流")
}
