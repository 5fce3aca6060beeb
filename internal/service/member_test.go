package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/infra/state/memory"
	"github.com/sk-edz-web/sk.chat/internal/service"
)

func TestMemberService_ListOrderedByRole(t *testing.T) {
	// Arrange: 直接铺设一个混合角色的成员集
	st := memory.New()
	members := service.NewMemberService(st)
	ctx := context.Background()

	write := func(uid string, role domain.Role, joinedAt int64) {
		require.NoError(t, st.Write(ctx, "roomMembers/room1/"+uid, map[string]interface{}{
			"name": uid, "avatar": "X", "role": string(role), "joinedAt": joinedAt,
		}))
	}
	write("zed", domain.RoleMember, 100)
	write("amy", domain.RoleModerator, 200)
	write("bob", domain.RoleAdmin, 300)
	write("cat", domain.RoleMember, 50)

	// Act
	list, err := members.ListMembers(ctx, "room1")
	require.NoError(t, err)

	// Assert: admin > moderator > member，同角色按加入时间
	require.Len(t, list, 4)
	assert.Equal(t, "bob", list[0].UID)
	assert.Equal(t, "amy", list[1].UID)
	assert.Equal(t, "cat", list[2].UID)
	assert.Equal(t, "zed", list[3].UID)
}

func TestMemberService_SubscribeTracksChanges(t *testing.T) {
	st := memory.New()
	members := service.NewMemberService(st)
	rooms := service.NewRoomService(st)
	ctx := context.Background()

	roomID, err := rooms.CreateRoom(ctx, service.CreateRoomInput{
		Name: "General", Type: domain.RoomPublic, CreatorUID: "u1", CreatorName: "Alice",
	})
	require.NoError(t, err)

	var got []domain.Member
	cancel, err := members.SubscribeMembers(ctx, roomID, func(ms []domain.Member) { got = ms })
	require.NoError(t, err)
	defer cancel()
	require.Len(t, got, 1, "订阅应立即交付当前成员集")

	require.NoError(t, rooms.JoinRoom(ctx, roomID, "u2", "Bob", "B", ""))
	require.Len(t, got, 2)

	require.NoError(t, rooms.LeaveRoom(ctx, roomID, "u2"))
	require.Len(t, got, 1)
}
