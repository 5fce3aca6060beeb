// Package redisstate 提供 store.Store 的 Redis 实现。
// 每个叶子以 JSON 字符串存放在带前缀的 key 下；写入会向路径的
// 每一级祖先频道发布通知，订阅方收到通知后重新读取子树。
// 提交时间戳由一段 Lua 脚本维护的单调时钟分配。
package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/store"
)

// clockScript 返回 max(当前毫秒, 上次分配值+1)，保证所有写入方
// 拿到的提交时间戳严格单调递增。
var clockScript = redis.NewScript(`
local now = redis.call('TIME')
local ms = now[1] * 1000 + math.floor(now[2] / 1000)
local last = tonumber(redis.call('GET', KEYS[1]) or '0')
if ms <= last then ms = last + 1 end
redis.call('SET', KEYS[1], ms)
return ms
`)

// toggleScript 原子地翻转一个布尔叶子；guard key 不存在时不做任何事。
// 返回 -1 表示 guard 缺失，0 表示已删除，1 表示已置位。
var toggleScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('EXISTS', KEYS[2]) == 1 then
  redis.call('DEL', KEYS[2])
  return 0
end
redis.call('SET', KEYS[2], ARGV[1])
return 1
`)

// Store 是 store.Store 的 Redis 实现。
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New 创建一个 Redis 存储。keyPrefix 为空时使用默认前缀 "chat:"。
func New(client *redis.Client, keyPrefix string) *Store {
	if client == nil {
		panic("redis client cannot be nil for redis Store")
	}
	if keyPrefix == "" {
		keyPrefix = "chat:"
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

// --- key helpers ---

func (s *Store) nodeKey(path string) string    { return s.keyPrefix + "node:" + path }
func (s *Store) channel(path string) string    { return s.keyPrefix + "ch:" + path }
func (s *Store) clockKey() string              { return s.keyPrefix + "clock" }
func (s *Store) seqKey() string                { return s.keyPrefix + "seq" }
func (s *Store) pathOf(nodeKey string) string  { return strings.TrimPrefix(nodeKey, s.keyPrefix+"node:") }

// ancestors 返回 path 自身及其全部祖先路径。
func ancestors(path string) []string {
	out := []string{path}
	for {
		idx := strings.LastIndexByte(path, '/')
		if idx < 0 {
			return out
		}
		path = path[:idx]
		out = append(out, path)
	}
}

func (s *Store) publishChange(ctx context.Context, pipe redis.Pipeliner, path string) {
	for _, p := range ancestors(path) {
		pipe.Publish(ctx, s.channel(p), path)
	}
}

// --- store.Store ---

func (s *Store) Write(ctx context.Context, path string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis: marshal value for %s: %w", path, err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.nodeKey(path), raw, 0)
	s.publishChange(ctx, pipe, path)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: write %s: %w", path, err)
	}
	return nil
}

func (s *Store) WriteWithServerTimestamp(ctx context.Context, path string, value map[string]interface{}) (int64, error) {
	ts, err := clockScript.Run(ctx, s.client, []string{s.clockKey()}).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis: allocate commit timestamp for %s: %w", path, err)
	}
	if err := s.Write(ctx, path, store.ResolveTimestamps(value, ts)); err != nil {
		return 0, err
	}
	return ts, nil
}

func (s *Store) Read(ctx context.Context, path string) (json.RawMessage, error) {
	raw, err := s.client.Get(ctx, s.nodeKey(path)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrAbsent
		}
		return nil, fmt.Errorf("redis: read %s: %w", path, err)
	}
	return json.RawMessage(raw), nil
}

func (s *Store) ReadTree(ctx context.Context, path string) (store.Snapshot, error) {
	keys, err := s.treeKeys(ctx, path)
	if err != nil {
		return nil, err
	}
	snap := make(store.Snapshot, len(keys))
	if len(keys) == 0 {
		return snap, nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget subtree %s: %w", path, err)
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // key 在 SCAN 与 MGET 之间被删除
		}
		snap[store.RelPath(path, s.pathOf(keys[i]))] = json.RawMessage(str)
	}
	return snap, nil
}

// treeKeys 收集 path 的精确 key 以及其子树下的全部 key。
func (s *Store) treeKeys(ctx context.Context, path string) ([]string, error) {
	var keys []string
	if n, err := s.client.Exists(ctx, s.nodeKey(path)).Result(); err == nil && n > 0 {
		keys = append(keys, s.nodeKey(path))
	}
	var cursor uint64
	pattern := s.nodeKey(path) + "/*"
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan subtree %s: %w", path, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (s *Store) Subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (store.CancelFunc, error) {
	// 先订阅频道再读初始快照，避免两者之间的写入丢失。
	ps := s.client.Subscribe(ctx, s.channel(path))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", path, err)
	}

	logCtx := logrus.WithFields(logrus.Fields{"component": "redis_store", "path": path})
	done := make(chan struct{})
	go func() {
		defer close(done)
		deliver := func() {
			snap, err := s.ReadTree(context.Background(), path)
			if err != nil {
				logCtx.WithError(err).Warn("Subscription: failed to read subtree, skipping delivery")
				return
			}
			fn(snap)
		}
		deliver()
		for range ps.Channel() {
			deliver()
		}
	}()

	cancel := func() {
		_ = ps.Close()
		<-done
	}
	return cancel, nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	keys, err := s.treeKeys(ctx, path)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	s.publishChange(ctx, pipe, path)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: remove %s: %w", path, err)
	}
	return nil
}

func (s *Store) PushKey(ctx context.Context, path string) (string, error) {
	n, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return "", fmt.Errorf("redis: allocate push key for %s: %w", path, err)
	}
	// 零填充保证字典序与分配顺序一致
	return fmt.Sprintf("k%012d", n), nil
}

// Toggle 实现 store.Toggler。
func (s *Store) Toggle(ctx context.Context, guardPath, flagPath string) (bool, error) {
	res, err := toggleScript.Run(ctx, s.client,
		[]string{s.nodeKey(guardPath), s.nodeKey(flagPath)}, "true").Int64()
	if err != nil {
		return false, fmt.Errorf("redis: toggle %s: %w", flagPath, err)
	}
	if res >= 0 {
		pipe := s.client.Pipeline()
		s.publishChange(ctx, pipe, flagPath)
		if _, err := pipe.Exec(ctx); err != nil {
			logrus.WithError(err).WithField("path", flagPath).Warn("Toggle: publish failed")
		}
	}
	return res == 1, nil
}
