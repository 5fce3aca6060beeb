package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sk-edz-web/sk.chat/internal/infra/state/memory"
	"github.com/sk-edz-web/sk.chat/internal/store"
)

func readString(t *testing.T, st store.Store, path, field string) string {
	t.Helper()
	raw, err := st.Read(context.Background(), path)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	s, _ := m[field].(string)
	return s
}

func TestSession_Close_RunsCompensationsInOrder(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	sess := store.NewSession(st)

	sess.OnDisconnectWrite("status/u1", map[string]interface{}{"state": "offline"})
	require.NoError(t, st.Write(ctx, "typing/r1/u1", map[string]interface{}{"name": "Alice"}))
	sess.OnDisconnectRemove("typing/r1/u1")

	require.NoError(t, sess.Close(ctx))

	assert.Equal(t, "offline", readString(t, st, "status/u1", "state"))
	_, err := st.Read(ctx, "typing/r1/u1")
	assert.ErrorIs(t, err, store.ErrAbsent, "登记的删除补偿应被执行")
}

func TestSession_ReRegisterSamePathOverwrites(t *testing.T) {
	st := memory.New()
	sess := store.NewSession(st)

	sess.OnDisconnectWrite("status/u1", map[string]interface{}{"state": "stale"})
	sess.OnDisconnectWrite("status/u1", map[string]interface{}{"state": "fresh"})

	require.NoError(t, sess.Close(context.Background()))
	assert.Equal(t, "fresh", readString(t, st, "status/u1", "state"), "同路径后登记的补偿应覆盖先前的")
}

func TestSession_Cancel(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	sess := store.NewSession(st)

	sess.OnDisconnectWrite("status/u1", map[string]interface{}{"state": "offline"})
	sess.Cancel("status/u1")

	require.NoError(t, sess.Close(ctx))
	_, err := st.Read(ctx, "status/u1")
	assert.ErrorIs(t, err, store.ErrAbsent, "被撤销的补偿不应执行")
}

func TestSession_Close_ResolvesServerTimestamp(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	sess := store.NewSession(st)

	sess.OnDisconnectWrite("status/u1", map[string]interface{}{
		"online":   false,
		"lastSeen": store.ServerTimestamp,
	})
	require.NoError(t, sess.Close(ctx))

	raw, err := st.Read(ctx, "status/u1")
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))
	ts, ok := got["lastSeen"].(float64)
	require.True(t, ok, "哨兵应被替换为数值时间戳")
	assert.Greater(t, ts, float64(0))
}

func TestSession_Close_IsIdempotent(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	sess := store.NewSession(st)

	sess.OnDisconnectWrite("counter", map[string]interface{}{"n": 1})
	require.NoError(t, sess.Close(ctx))
	require.NoError(t, st.Write(ctx, "counter", map[string]interface{}{"n": 2}))

	// 第二次 Close 不应重放补偿
	require.NoError(t, sess.Close(ctx))
	raw, err := st.Read(ctx, "counter")
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 2, got["n"])
}

func TestSession_RegisterAfterCloseIsIgnored(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	sess := store.NewSession(st)

	require.NoError(t, sess.Close(ctx))
	sess.OnDisconnectWrite("status/u1", map[string]interface{}{"state": "offline"})
	require.NoError(t, sess.Close(ctx))

	_, err := st.Read(ctx, "status/u1")
	assert.ErrorIs(t, err, store.ErrAbsent)
}
