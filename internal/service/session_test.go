package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/infra/state/memory"
	"github.com/sk-edz-web/sk.chat/internal/service"
)

type sessionFixture struct {
	st         *memory.Store
	rooms      *service.RoomService
	messages   *service.MessageService
	members    *service.MemberService
	presence   *service.PresenceService
	typing     *service.TypingService
	controller *service.SessionController
}

func newSessionFixture() *sessionFixture {
	st := memory.New()
	f := &sessionFixture{
		st:       st,
		rooms:    service.NewRoomService(st),
		messages: service.NewMessageService(st),
		members:  service.NewMemberService(st),
		presence: service.NewPresenceService(st),
		typing:   service.NewTypingService(st),
	}
	f.controller = service.NewSessionController(f.rooms, f.messages, f.members, f.presence, f.typing)
	return f
}

func TestSessionController_Open_DeliversInitialState(t *testing.T) {
	// Arrange: 房间里已有成员和一条消息
	f := newSessionFixture()
	ctx := context.Background()
	roomID, err := f.rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name: "General", Type: domain.RoomPublic, CreatorUID: "u1", CreatorName: "Alice",
	})
	require.NoError(t, err)
	require.NoError(t, f.rooms.JoinRoom(ctx, roomID, "u2", "Bob", "B", ""))
	_, _, err = f.messages.SendMessage(ctx, roomID, "u1", "Alice", "A", "welcome")
	require.NoError(t, err)

	var gotRoom *domain.Room
	var gotMessages []domain.Message
	var gotMembers []domain.Member
	var gotTypists []domain.Typist
	var gotPresence map[string]domain.Presence

	// Act: u2 打开会话
	sess, err := f.controller.Open(ctx, roomID, "u2", "Bob", service.RoomEvents{
		OnRoom:     func(r domain.Room) { gotRoom = &r },
		OnMessages: func(ms []domain.Message) { gotMessages = ms },
		OnMembers:  func(ms []domain.Member) { gotMembers = ms },
		OnTyping:   func(ts []domain.Typist) { gotTypists = ts },
		OnPresence: func(p map[string]domain.Presence) { gotPresence = p },
	})
	require.NoError(t, err)
	defer sess.Close(ctx)

	// Assert: 所有流都交付了初始状态
	require.NotNil(t, gotRoom)
	assert.Equal(t, "General", gotRoom.Name)
	require.Len(t, gotMessages, 1)
	assert.Equal(t, "welcome", gotMessages[0].Text)
	require.Len(t, gotMembers, 2)
	assert.Equal(t, "u1", gotMembers[0].UID, "admin 应排在成员列表首位")
	assert.Empty(t, gotTypists)
	assert.NotNil(t, gotPresence)
	assert.Equal(t, roomID, sess.RoomID())
}

func TestSessionController_Open_LiveUpdates(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()
	roomID, err := f.rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name: "General", Type: domain.RoomPublic, CreatorUID: "u1", CreatorName: "Alice",
	})
	require.NoError(t, err)

	var gotMessages []domain.Message
	var gotTypists []domain.Typist
	sess, err := f.controller.Open(ctx, roomID, "u2", "Bob", service.RoomEvents{
		OnMessages: func(ms []domain.Message) { gotMessages = ms },
		OnTyping:   func(ts []domain.Typist) { gotTypists = ts },
	})
	require.NoError(t, err)
	defer sess.Close(ctx)

	// 会话打开后发生的变更应持续交付
	_, _, err = f.messages.SendMessage(ctx, roomID, "u1", "Alice", "A", "hello")
	require.NoError(t, err)
	require.Len(t, gotMessages, 1)

	require.NoError(t, f.typing.SetTyping(ctx, roomID, "u1", "Alice", true))
	require.Len(t, gotTypists, 1)
	assert.Equal(t, "u1", gotTypists[0].UID)
}

func TestSessionController_Open_RoomNotFound(t *testing.T) {
	f := newSessionFixture()

	called := false
	_, err := f.controller.Open(context.Background(), "missing", "u1", "Alice", service.RoomEvents{
		OnMessages: func([]domain.Message) { called = true },
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrRoomNotFound))
	assert.False(t, called, "房间不存在时不应建立任何订阅")
}

func TestRoomSession_Close_StopsDeliveryAndClearsTyping(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()
	roomID, err := f.rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name: "General", Type: domain.RoomPublic, CreatorUID: "u1", CreatorName: "Alice",
	})
	require.NoError(t, err)

	var deliveries int
	sess, err := f.controller.Open(ctx, roomID, "u2", "Bob", service.RoomEvents{
		OnMessages: func([]domain.Message) { deliveries++ },
	})
	require.NoError(t, err)

	// u2 留下一个输入指示，然后关闭会话
	require.NoError(t, f.typing.SetTyping(ctx, roomID, "u2", "Bob", true))
	before := deliveries
	sess.Close(ctx)

	// 关闭后不再交付
	_, _, err = f.messages.SendMessage(ctx, roomID, "u1", "Alice", "A", "after close")
	require.NoError(t, err)
	assert.Equal(t, before, deliveries, "关闭后的变更不应再交付")

	// u2 的输入指示被清除
	var typists []domain.Typist
	cancel, err := f.typing.SubscribeTyping(ctx, roomID, "observer", func(ts []domain.Typist) { typists = ts })
	require.NoError(t, err)
	defer cancel()
	assert.Empty(t, typists, "会话关闭应清除自己的输入指示")

	// 重复关闭无害
	sess.Close(ctx)
}
