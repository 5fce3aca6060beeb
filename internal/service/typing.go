package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/store"
)

// TypingService 维护每个房间的瞬态"正在输入"指示。
// 记录的存在即语义：不存在就是没在输入。空闲超时由调用方
// （传输层的 2 秒定时器）负责；后台清扫任务兜底清理陈旧记录。
type TypingService struct {
	st store.Store
}

// NewTypingService 创建 TypingService 实例。
func NewTypingService(st store.Store) *TypingService {
	if st == nil {
		panic("store cannot be nil for TypingService")
	}
	return &TypingService{st: st}
}

// SetTyping 置位或清除用户在房间内的输入指示。
// true 为带时间戳的 upsert（每次按键刷新），false 为删除。
func (s *TypingService) SetTyping(ctx context.Context, roomID, uid, name string, isTyping bool) error {
	if isTyping {
		_, err := s.st.WriteWithServerTimestamp(ctx, typingPath(roomID, uid), map[string]interface{}{
			"name":      name,
			"timestamp": store.ServerTimestamp,
		})
		if err != nil {
			return storeErr("write(typing)", err)
		}
		return nil
	}
	if err := s.st.Remove(ctx, typingPath(roomID, uid)); err != nil {
		return storeErr("remove(typing)", err)
	}
	return nil
}

// SubscribeTyping 订阅房间内正在输入的用户集合，排除 selfUID。
func (s *TypingService) SubscribeTyping(ctx context.Context, roomID, selfUID string, fn func([]domain.Typist)) (store.CancelFunc, error) {
	cancel, err := s.st.Subscribe(ctx, typingRoomPath(roomID), func(snap store.Snapshot) {
		fn(decodeTypists(snap, selfUID))
	})
	if err != nil {
		return nil, storeErr("subscribe(typing)", err)
	}
	return cancel, nil
}

func decodeTypists(snap store.Snapshot, selfUID string) []domain.Typist {
	typists := make([]domain.Typist, 0, len(snap))
	for rel, raw := range snap {
		if rel == "" || strings.Contains(rel, "/") || rel == selfUID {
			continue
		}
		var t domain.Typist
		if err := json.Unmarshal(raw, &t); err != nil {
			logrus.WithError(err).WithField("uid", rel).Warn("Typing: skipping undecodable record")
			continue
		}
		t.UID = rel
		typists = append(typists, t)
	}
	sort.Slice(typists, func(i, j int) bool { return typists[i].UID < typists[j].UID })
	return typists
}
