package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/store"
)

// PresenceService 维护全局在线状态表。正确性的核心在于
// 断开补偿：下线写入由存储会话持有，即使客户端代码再也
// 没有机会运行也会被执行。
type PresenceService struct {
	st store.Store
}

// NewPresenceService 创建 PresenceService 实例。
func NewPresenceService(st store.Store) *PresenceService {
	if st == nil {
		panic("store cannot be nil for PresenceService")
	}
	return &PresenceService{st: st}
}

// BeginSession 标记用户在线，并在 sess 上登记断开时的下线补偿。
func (s *PresenceService) BeginSession(ctx context.Context, uid string, sess *store.Session) error {
	_, err := s.st.WriteWithServerTimestamp(ctx, presencePath(uid), map[string]interface{}{
		"online":   true,
		"lastSeen": store.ServerTimestamp,
	})
	if err != nil {
		return storeErr("write(presence)", err)
	}
	if sess != nil {
		sess.OnDisconnectWrite(presencePath(uid), map[string]interface{}{
			"online":   false,
			"lastSeen": store.ServerTimestamp,
		})
	}
	return nil
}

// Touch 刷新用户的 lastSeen 租约。由传输层在心跳时调用，
// 为补偿写入无法执行的场景提供有界陈旧度的兜底。
func (s *PresenceService) Touch(ctx context.Context, uid string) error {
	_, err := s.st.WriteWithServerTimestamp(ctx, presencePath(uid), map[string]interface{}{
		"online":   true,
		"lastSeen": store.ServerTimestamp,
	})
	if err != nil {
		return storeErr("write(presence)", err)
	}
	return nil
}

// EndSession 显式标记用户下线。之前登记的断开补偿随后触发也是
// 同形幂等写入，无害。
func (s *PresenceService) EndSession(ctx context.Context, uid string) error {
	_, err := s.st.WriteWithServerTimestamp(ctx, presencePath(uid), map[string]interface{}{
		"online":   false,
		"lastSeen": store.ServerTimestamp,
	})
	if err != nil {
		return storeErr("write(presence)", err)
	}
	return nil
}

// SubscribePresence 订阅全局在线状态表：立即交付完整映射，
// 之后每次变化重新交付。
func (s *PresenceService) SubscribePresence(ctx context.Context, fn func(map[string]domain.Presence)) (store.CancelFunc, error) {
	cancel, err := s.st.Subscribe(ctx, presenceRoot, func(snap store.Snapshot) {
		fn(decodePresence(snap))
	})
	if err != nil {
		return nil, storeErr("subscribe(presence)", err)
	}
	return cancel, nil
}

func decodePresence(snap store.Snapshot) map[string]domain.Presence {
	out := make(map[string]domain.Presence, len(snap))
	for rel, raw := range snap {
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}
		var p domain.Presence
		if err := json.Unmarshal(raw, &p); err != nil {
			logrus.WithError(err).WithField("uid", rel).Warn("Presence: skipping undecodable record")
			continue
		}
		out[rel] = p
	}
	return out
}

// OnlineCount 计算成员列表与在线表的交集大小，即房间在线人数。
func OnlineCount(members []domain.Member, presence map[string]domain.Presence) int {
	n := 0
	for _, m := range members {
		if presence[m.UID].Online {
			n++
		}
	}
	return n
}
