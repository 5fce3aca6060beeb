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

func TestTypingService_SetAndClear(t *testing.T) {
	st := memory.New()
	typing := service.NewTypingService(st)
	ctx := context.Background()

	// u2 订阅房间的输入指示
	var got []domain.Typist
	cancel, err := typing.SubscribeTyping(ctx, "room1", "u2", func(ts []domain.Typist) { got = ts })
	require.NoError(t, err)
	defer cancel()
	assert.Empty(t, got)

	// u1 开始输入
	require.NoError(t, typing.SetTyping(ctx, "room1", "u1", "Alice", true))
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UID)
	assert.Equal(t, "Alice", got[0].Name)
	assert.NotZero(t, got[0].Timestamp)

	// 刷新是 upsert，不产生重复记录
	first := got[0].Timestamp
	require.NoError(t, typing.SetTyping(ctx, "room1", "u1", "Alice", true))
	require.Len(t, got, 1)
	assert.Greater(t, got[0].Timestamp, first, "重复置位应刷新时间戳")

	// u1 停止输入
	require.NoError(t, typing.SetTyping(ctx, "room1", "u1", "Alice", false))
	assert.Empty(t, got, "清除后指示应消失")
}

func TestTypingService_ClearIsIdempotent(t *testing.T) {
	st := memory.New()
	typing := service.NewTypingService(st)

	// 从未置位过也可以清除
	assert.NoError(t, typing.SetTyping(context.Background(), "room1", "u1", "Alice", false))
}

func TestTypingService_SubscribeExcludesSelf(t *testing.T) {
	st := memory.New()
	typing := service.NewTypingService(st)
	ctx := context.Background()

	var got []domain.Typist
	cancel, err := typing.SubscribeTyping(ctx, "room1", "u1", func(ts []domain.Typist) { got = ts })
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, typing.SetTyping(ctx, "room1", "u1", "Alice", true))
	assert.Empty(t, got, "自己的指示不应出现在自己的视图里")

	require.NoError(t, typing.SetTyping(ctx, "room1", "u2", "Bob", true))
	require.Len(t, got, 1)
	assert.Equal(t, "u2", got[0].UID)
}

func TestTypingService_RoomsAreIsolated(t *testing.T) {
	st := memory.New()
	typing := service.NewTypingService(st)
	ctx := context.Background()

	var got []domain.Typist
	cancel, err := typing.SubscribeTyping(ctx, "room1", "u9", func(ts []domain.Typist) { got = ts })
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, typing.SetTyping(ctx, "room2", "u1", "Alice", true))
	assert.Empty(t, got, "别的房间的指示不应泄漏进来")
}
