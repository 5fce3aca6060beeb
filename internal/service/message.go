package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/store"
)

// MessageService 负责每个房间的有序消息流：发送、表情反应的
// 切换、删除，以及按时间戳排序的订阅视图。
type MessageService struct {
	st store.Store
}

// NewMessageService 创建 MessageService 实例。
func NewMessageService(st store.Store) *MessageService {
	if st == nil {
		panic("store cannot be nil for MessageService")
	}
	return &MessageService{st: st}
}

// SendMessage 写入一条带存储端时间戳的消息，然后更新房间摘要。
// 两次写入位于不同路径，订阅方可能以任意先后观察到它们。
// 返回消息 key 与提交时间戳。
func (s *MessageService) SendMessage(ctx context.Context, roomID, uid, name, avatar, text string) (string, int64, error) {
	if strings.TrimSpace(text) == "" {
		return "", 0, validationErr("message text is empty")
	}

	msgID, err := s.st.PushKey(ctx, messagesPath(roomID))
	if err != nil {
		return "", 0, storeErr("pushKey(messages)", err)
	}
	ts, err := s.st.WriteWithServerTimestamp(ctx, messagePath(roomID, msgID), map[string]interface{}{
		"senderUid":    uid,
		"senderName":   name,
		"senderAvatar": avatar,
		"text":         text,
		"timestamp":    store.ServerTimestamp,
	})
	if err != nil {
		return "", 0, storeErr("write(message)", err)
	}

	if err := s.updateRoomSummary(ctx, roomID, text); err != nil {
		// 摘要更新失败不影响已提交的消息
		logrus.WithError(err).WithField("room_id", roomID).Warn("SendMessage: room summary update failed")
	}
	return msgID, ts, nil
}

// updateRoomSummary 读-改-写房间记录的 lastMessage 摘要字段。
// 并发发送者之间对整条记录 last-write-wins；除摘要外的字段不可变，
// 因此收敛到任意一个胜者都是一致的。
func (s *MessageService) updateRoomSummary(ctx context.Context, roomID, text string) error {
	raw, err := s.st.Read(ctx, roomPath(roomID))
	if err != nil {
		if errors.Is(err, store.ErrAbsent) {
			return nil // 房间已消失，摘要无处可写
		}
		return err
	}
	var room map[string]interface{}
	if err := json.Unmarshal(raw, &room); err != nil {
		return err
	}
	room["lastMessage"] = text
	room["lastMessageTime"] = store.ServerTimestamp
	_, err = s.st.WriteWithServerTimestamp(ctx, roomPath(roomID), room)
	return err
}

// GetMessage 一次性读取一条消息（不含 reactions 子树）。
func (s *MessageService) GetMessage(ctx context.Context, roomID, msgID string) (*domain.Message, error) {
	raw, err := s.st.Read(ctx, messagePath(roomID, msgID))
	if err != nil {
		if errors.Is(err, store.ErrAbsent) {
			return nil, store.ErrAbsent
		}
		return nil, storeErr("read(message)", err)
	}
	var msg domain.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, storeErr("decode(message)", err)
	}
	msg.ID = msgID
	return &msg, nil
}

// ToggleReaction 切换 reactions[emoji][uid] 的成员资格。
// 存储支持原子翻转时走原子路径；否则退化为读-改-写序列，
// 同一用户的两次快速切换可能竞争（已知一致性缺口）。
// 消息已被删除时是无害的空操作，不算错误。
func (s *MessageService) ToggleReaction(ctx context.Context, roomID, msgID, emoji, uid string) (bool, error) {
	guard := messagePath(roomID, msgID)
	flag := reactionPath(roomID, msgID, emoji, uid)

	if tg, ok := s.st.(store.Toggler); ok {
		present, err := tg.Toggle(ctx, guard, flag)
		if err != nil {
			return false, storeErr("toggle(reaction)", err)
		}
		return present, nil
	}

	// 回退：非原子的读-改-写
	if _, err := s.st.Read(ctx, guard); err != nil {
		if errors.Is(err, store.ErrAbsent) {
			return false, nil
		}
		return false, storeErr("read(message)", err)
	}
	_, err := s.st.Read(ctx, flag)
	switch {
	case err == nil:
		if err := s.st.Remove(ctx, flag); err != nil {
			return false, storeErr("remove(reaction)", err)
		}
		return false, nil
	case errors.Is(err, store.ErrAbsent):
		if err := s.st.Write(ctx, flag, true); err != nil {
			return false, storeErr("write(reaction)", err)
		}
		return true, nil
	default:
		return false, storeErr("read(reaction)", err)
	}
}

// DeleteMessage 无条件硬删除整条消息及其 reactions 子树。
func (s *MessageService) DeleteMessage(ctx context.Context, roomID, msgID string) error {
	if err := s.st.Remove(ctx, messagePath(roomID, msgID)); err != nil {
		return storeErr("remove(message)", err)
	}
	return nil
}

// SubscribeMessages 订阅房间消息流。交付顺序是存储到达顺序，
// 可能与时间戳顺序不同；每次回调都重新按时间戳升序（同戳按 key）
// 排好序后交付，调用方不应信任底层交付顺序。
func (s *MessageService) SubscribeMessages(ctx context.Context, roomID string, fn func([]domain.Message)) (store.CancelFunc, error) {
	cancel, err := s.st.Subscribe(ctx, messagesPath(roomID), func(snap store.Snapshot) {
		fn(decodeMessages(snap))
	})
	if err != nil {
		return nil, storeErr("subscribe(messages)", err)
	}
	return cancel, nil
}

// decodeMessages 把消息子树快照装配为有序消息列表。
// 快照里既有消息记录本身（"<id>"），也有散落的 reaction 叶子
// （"<id>/reactions/<emoji>/<uid>"）。
func decodeMessages(snap store.Snapshot) []domain.Message {
	byID := make(map[string]*domain.Message)
	for rel, raw := range snap {
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}
		var msg domain.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logrus.WithError(err).WithField("message_id", rel).Warn("Messages: skipping undecodable record")
			continue
		}
		msg.ID = rel
		byID[rel] = &msg
	}
	for rel := range snap {
		parts := strings.Split(rel, "/")
		// <id>/reactions/<emoji>/<uid>
		if len(parts) != 4 || parts[1] != "reactions" {
			continue
		}
		msg, ok := byID[parts[0]]
		if !ok {
			continue // 孤儿 reaction 叶子：消息记录尚未可见或已删除
		}
		if msg.Reactions == nil {
			msg.Reactions = make(map[string]map[string]bool)
		}
		if msg.Reactions[parts[2]] == nil {
			msg.Reactions[parts[2]] = make(map[string]bool)
		}
		msg.Reactions[parts[2]][parts[3]] = true
	}

	messages := make([]domain.Message, 0, len(byID))
	for _, msg := range byID {
		messages = append(messages, *msg)
	}
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].Timestamp != messages[j].Timestamp {
			return messages[i].Timestamp < messages[j].Timestamp
		}
		return messages[i].ID < messages[j].ID // 同戳按 key 分配顺序
	})
	return messages
}
