// Package memory 提供 store.Store 的进程内实现。
// 它用于测试以及不依赖外部 Redis 的单进程部署；
// 订阅回调在写入方的 goroutine 中同步触发，按提交顺序串行。
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sk-edz-web/sk.chat/internal/store"
)

// Store 是基于内存 map 的 store.Store 实现。
type Store struct {
	mu      sync.Mutex
	leaves  map[string]json.RawMessage
	subs    map[int]*subscription
	nextSub int
	seq     uint64
	clock   int64

	// nowFn 可在测试中替换以控制时钟。
	nowFn func() time.Time
}

type subscription struct {
	path string
	fn   func(store.Snapshot)
	// 保证同一订阅的回调串行执行
	deliverMu sync.Mutex
	cancelled bool
}

// New 创建一个空的内存存储。
func New() *Store {
	return &Store{
		leaves: make(map[string]json.RawMessage),
		subs:   make(map[int]*subscription),
		nowFn:  time.Now,
	}
}

func (s *Store) Write(ctx context.Context, path string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory: marshal value for %s: %w", path, err)
	}
	s.mu.Lock()
	s.leaves[path] = raw
	targets := s.affectedSubs(path)
	s.mu.Unlock()
	s.notify(targets)
	return nil
}

func (s *Store) WriteWithServerTimestamp(ctx context.Context, path string, value map[string]interface{}) (int64, error) {
	s.mu.Lock()
	ts := s.nextTimestampLocked()
	s.mu.Unlock()
	if err := s.Write(ctx, path, store.ResolveTimestamps(value, ts)); err != nil {
		return 0, err
	}
	return ts, nil
}

// nextTimestampLocked 分配一个严格单调递增的毫秒时间戳。
func (s *Store) nextTimestampLocked() int64 {
	ts := s.nowFn().UnixMilli()
	if ts <= s.clock {
		ts = s.clock + 1
	}
	s.clock = ts
	return ts
}

func (s *Store) Read(ctx context.Context, path string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.leaves[path]
	if !ok {
		return nil, store.ErrAbsent
	}
	return append(json.RawMessage(nil), raw...), nil
}

func (s *Store) ReadTree(ctx context.Context, path string) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(path), nil
}

func (s *Store) Subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (store.CancelFunc, error) {
	sub := &subscription{path: path, fn: fn}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	snap := s.snapshotLocked(path)
	// 在释放 s.mu 前占住交付锁，保证初始快照先于并发写入的通知交付
	sub.deliverMu.Lock()
	s.mu.Unlock()

	fn(snap)
	sub.deliverMu.Unlock()

	cancel := func() {
		s.mu.Lock()
		sub.cancelled = true
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return cancel, nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	s.mu.Lock()
	for leaf := range s.leaves {
		if store.IsChild(path, leaf) {
			delete(s.leaves, leaf)
		}
	}
	targets := s.affectedSubs(path)
	s.mu.Unlock()
	s.notify(targets)
	return nil
}

func (s *Store) PushKey(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	s.seq++
	key := fmt.Sprintf("k%012d", s.seq)
	s.mu.Unlock()
	return key, nil
}

// Toggle 实现 store.Toggler：在锁内完成检查与翻转，因而是原子的。
func (s *Store) Toggle(ctx context.Context, guardPath, flagPath string) (bool, error) {
	s.mu.Lock()
	if _, ok := s.leaves[guardPath]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	var present bool
	if _, ok := s.leaves[flagPath]; ok {
		delete(s.leaves, flagPath)
		present = false
	} else {
		s.leaves[flagPath] = json.RawMessage("true")
		present = true
	}
	targets := s.affectedSubs(flagPath)
	s.mu.Unlock()
	s.notify(targets)
	return present, nil
}

type delivery struct {
	sub  *subscription
	snap store.Snapshot
}

// affectedSubs 在持锁状态下为受 path 变更影响的订阅生成快照。
// 变更与订阅相关，当且仅当变更路径落在订阅子树内，或订阅路径
// 落在被删除的子树内。
func (s *Store) affectedSubs(path string) []delivery {
	var out []delivery
	for _, sub := range s.subs {
		if store.IsChild(sub.path, path) || store.IsChild(path, sub.path) {
			out = append(out, delivery{sub: sub, snap: s.snapshotLocked(sub.path)})
		}
	}
	return out
}

func (s *Store) notify(targets []delivery) {
	for _, d := range targets {
		d.sub.deliverMu.Lock()
		if !d.sub.cancelled {
			d.sub.fn(d.snap)
		}
		d.sub.deliverMu.Unlock()
	}
}

func (s *Store) snapshotLocked(path string) store.Snapshot {
	snap := make(store.Snapshot)
	keys := make([]string, 0)
	for leaf := range s.leaves {
		if store.IsChild(path, leaf) {
			keys = append(keys, leaf)
		}
	}
	sort.Strings(keys)
	for _, leaf := range keys {
		snap[store.RelPath(path, leaf)] = append(json.RawMessage(nil), s.leaves[leaf]...)
	}
	return snap
}
