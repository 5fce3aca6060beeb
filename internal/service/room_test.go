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

func newRoomFixture() (*service.RoomService, *service.MemberService, *memory.Store) {
	st := memory.New()
	return service.NewRoomService(st), service.NewMemberService(st), st
}

func TestRoomService_CreateRoom_Success(t *testing.T) {
	// Arrange
	rooms, members, _ := newRoomFixture()
	ctx := context.Background()

	// Act
	roomID, err := rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name:          "General",
		Type:          domain.RoomPublic,
		Description:   "everyday chatter",
		CreatorUID:    "u1",
		CreatorName:   "Alice",
		CreatorAvatar: "A",
	})

	// Assert
	require.NoError(t, err, "创建公开房间不应失败")
	require.NotEmpty(t, roomID, "应返回分配的房间 key")

	room, err := rooms.GetRoomInfo(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "General", room.Name)
	assert.Equal(t, domain.RoomPublic, room.Type)
	assert.Equal(t, "u1", room.CreatedBy)
	assert.NotZero(t, room.CreatedAt, "创建时间应由存储端分配")
	assert.Empty(t, room.PasswordHash, "密码哈希不应对外暴露")

	// 创建者应以 admin 身份出现在成员列表中
	list, err := members.ListMembers(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "u1", list[0].UID)
	assert.Equal(t, domain.RoleAdmin, list[0].Role)

	// 用户房间索引应包含新房间
	mine, err := rooms.ListUserRooms(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, roomID, mine[0].ID)
}

func TestRoomService_CreateRoom_NameTooShort(t *testing.T) {
	rooms, _, _ := newRoomFixture()

	_, err := rooms.CreateRoom(context.Background(), service.CreateRoomInput{
		Name:       "ab",
		Type:       domain.RoomPublic,
		CreatorUID: "u1",
	})

	require.Error(t, err, "名字少于 3 个字符应被拒绝")
	assert.True(t, errors.Is(err, service.ErrValidation), "错误类型应为 ErrValidation")
}

func TestRoomService_CreateRoom_PrivateNeedsPassword(t *testing.T) {
	rooms, _, _ := newRoomFixture()

	_, err := rooms.CreateRoom(context.Background(), service.CreateRoomInput{
		Name:       "Secrets",
		Type:       domain.RoomPrivate,
		Password:   "123",
		CreatorUID: "u1",
	})

	require.Error(t, err, "私密房间密码少于 6 个字符应被拒绝")
	assert.True(t, errors.Is(err, service.ErrValidation))
}

func TestRoomService_JoinRoom_PrivatePassword(t *testing.T) {
	// Arrange: 创建带密码的私密房间
	rooms, members, _ := newRoomFixture()
	ctx := context.Background()
	roomID, err := rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name:       "Secrets",
		Type:       domain.RoomPrivate,
		Password:   "hunter22",
		CreatorUID: "u1",
	})
	require.NoError(t, err)

	// Act & Assert: 错误密码被拒绝且不产生成员记录
	err = rooms.JoinRoom(ctx, roomID, "u2", "Bob", "B", "wrong-pass")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrWrongPassword), "错误类型应为 ErrWrongPassword")

	list, err := members.ListMembers(ctx, roomID)
	require.NoError(t, err)
	assert.Len(t, list, 1, "失败的加入不应留下成员记录")

	// 正确密码加入成功
	err = rooms.JoinRoom(ctx, roomID, "u2", "Bob", "B", "hunter22")
	require.NoError(t, err, "正确密码应加入成功")

	list, err = members.ListMembers(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.RoleMember, list[1].Role, "加入者的角色应为 member")
}

func TestRoomService_JoinRoom_RoomNotFound(t *testing.T) {
	rooms, _, _ := newRoomFixture()

	err := rooms.JoinRoom(context.Background(), "no-such-room", "u2", "Bob", "B", "")

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrRoomNotFound))
}

func TestRoomService_JoinRoom_IsIdempotent(t *testing.T) {
	// 重复加入同一房间覆盖档案字段而不产生重复记录
	rooms, members, _ := newRoomFixture()
	ctx := context.Background()
	roomID, err := rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name: "General", Type: domain.RoomPublic, CreatorUID: "u1",
	})
	require.NoError(t, err)

	require.NoError(t, rooms.JoinRoom(ctx, roomID, "u2", "Bob", "B", ""))
	require.NoError(t, rooms.JoinRoom(ctx, roomID, "u2", "Bobby", "B", ""))

	list, err := members.ListMembers(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, list, 2, "重复加入不应产生重复成员")
	assert.Equal(t, "Bobby", list[1].Name, "后写的档案应覆盖先前的记录")
}

func TestRoomService_LeaveRoom(t *testing.T) {
	rooms, members, _ := newRoomFixture()
	ctx := context.Background()
	roomID, err := rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name: "General", Type: domain.RoomPublic, CreatorUID: "u1",
	})
	require.NoError(t, err)
	require.NoError(t, rooms.JoinRoom(ctx, roomID, "u2", "Bob", "B", ""))

	// Act: u2 退出
	require.NoError(t, rooms.LeaveRoom(ctx, roomID, "u2"))

	list, err := members.ListMembers(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "u1", list[0].UID)

	mine, err := rooms.ListUserRooms(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, mine, "退出后用户索引中不应再有该房间")

	// 唯一 admin 退出后房间依然存在
	require.NoError(t, rooms.LeaveRoom(ctx, roomID, "u1"))
	_, err = rooms.GetRoomInfo(ctx, roomID)
	assert.NoError(t, err, "没有 admin 的房间仍是合法状态")
}

func TestRoomService_ListUserRooms_SkipsDanglingIndex(t *testing.T) {
	// 索引指向的房间已不存在时应被跳过而不是报错
	rooms, _, st := newRoomFixture()
	ctx := context.Background()
	roomID, err := rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name: "General", Type: domain.RoomPublic, CreatorUID: "u1",
	})
	require.NoError(t, err)
	require.NoError(t, st.Remove(ctx, "rooms/"+roomID))

	mine, err := rooms.ListUserRooms(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, mine)
}
