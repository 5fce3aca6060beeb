package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/domain"
)

// 本文件是后台维护入口：断开补偿和客户端定时器覆盖不到的
// 残留状态由这些操作兜底回收。它们由周期性任务调用，全部幂等。

// SweepStaleTypists 清除时间戳早于 cutoff（毫秒）的输入指示。
// 覆盖进程在补偿写入执行前整体崩溃的场景。返回清除条数。
func (s *TypingService) SweepStaleTypists(ctx context.Context, cutoff int64) (int, error) {
	snap, err := s.st.ReadTree(ctx, typingRoot)
	if err != nil {
		return 0, storeErr("readTree(typing)", err)
	}

	removed := 0
	for rel, raw := range snap {
		// 指示记录位于 <roomID>/<uid>，跳过其他形状的残片
		parts := strings.Split(rel, "/")
		if len(parts) != 2 {
			continue
		}
		var t domain.Typist
		if err := json.Unmarshal(raw, &t); err != nil {
			logrus.WithError(err).WithField("path", rel).Warn("TypingSweep: removing undecodable record")
		} else if t.Timestamp >= cutoff {
			continue
		}
		if err := s.st.Remove(ctx, typingRoot+"/"+rel); err != nil {
			logrus.WithError(err).WithField("path", rel).Warn("TypingSweep: remove failed")
			continue
		}
		removed++
	}
	return removed, nil
}

// SweepStalePresence 把 lastSeen 早于 cutoff 且仍标记在线的用户
// 置为下线。租约由传输层心跳续期，超过 cutoff 即视为失联。
// 返回置为下线的用户数。
func (s *PresenceService) SweepStalePresence(ctx context.Context, cutoff int64) (int, error) {
	snap, err := s.st.ReadTree(ctx, presenceRoot)
	if err != nil {
		return 0, storeErr("readTree(presence)", err)
	}

	swept := 0
	for rel, raw := range snap {
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}
		var p domain.Presence
		if err := json.Unmarshal(raw, &p); err != nil {
			logrus.WithError(err).WithField("uid", rel).Warn("PresenceSweep: skipping undecodable record")
			continue
		}
		if !p.Online || p.LastSeen >= cutoff {
			continue
		}
		if err := s.EndSession(ctx, rel); err != nil {
			logrus.WithError(err).WithField("uid", rel).Warn("PresenceSweep: failed to mark offline")
			continue
		}
		swept++
	}
	return swept, nil
}

// ReconcileOrphanRooms 回收创建早于 cutoff 且成员集为空的房间：
// 删除房间记录、消息流和创建者的索引项。有成员但没有 admin 的
// 房间不在回收范围内，它们是合法状态。返回回收的房间数。
func (s *RoomService) ReconcileOrphanRooms(ctx context.Context, cutoff int64) (int, error) {
	snap, err := s.st.ReadTree(ctx, roomsRoot)
	if err != nil {
		return 0, storeErr("readTree(rooms)", err)
	}

	reclaimed := 0
	for rel, raw := range snap {
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}
		roomID := rel
		var room domain.Room
		if err := json.Unmarshal(raw, &room); err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Warn("Reconcile: skipping undecodable room")
			continue
		}
		// 宽限期内的新房间可能还没写完成员记录
		if room.CreatedAt >= cutoff {
			continue
		}

		members, err := s.st.ReadTree(ctx, membersPath(roomID))
		if err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Warn("Reconcile: member read failed")
			continue
		}
		if len(members) > 0 {
			continue
		}

		for _, path := range []string{
			messagesPath(roomID),
			typingRoomPath(roomID),
			userRoomPath(room.CreatedBy, roomID),
			roomPath(roomID),
		} {
			if err := s.st.Remove(ctx, path); err != nil {
				logrus.WithError(err).WithField("path", path).Warn("Reconcile: remove failed")
			}
		}
		logrus.WithField("room_id", roomID).Info("Reconcile: reclaimed orphan room")
		reclaimed++
	}
	return reclaimed, nil
}
