package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/repository"
	"github.com/sk-edz-web/sk.chat/internal/tasks"
)

// ArchiveHandler 把消息和房间元数据写入归档库。
// 实时存储仍是权威，这里只做 write-behind 落盘。
type ArchiveHandler struct {
	msgRepo  repository.MessageArchiveRepository
	roomRepo repository.RoomArchiveRepository
}

// NewArchiveHandler 创建 ArchiveHandler 实例。
func NewArchiveHandler(msgRepo repository.MessageArchiveRepository, roomRepo repository.RoomArchiveRepository) *ArchiveHandler {
	return &ArchiveHandler{msgRepo: msgRepo, roomRepo: roomRepo}
}

// ProcessMessageTask 落盘一条消息。重复投递映射为唯一约束冲突，
// 视为已完成。
func (h *ArchiveHandler) ProcessMessageTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.MessageArchivePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("ArchiveHandler: failed to unmarshal message payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.msgRepo.Save(ctx, &payload.Message); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logrus.WithFields(logrus.Fields{
				"room_key":    payload.Message.RoomKey,
				"message_key": payload.Message.MessageKey,
			}).Debug("ArchiveHandler: message already archived")
			return nil
		}
		return fmt.Errorf("failed to archive message %s: %w", payload.Message.MessageKey, err)
	}
	return nil
}

// ProcessRoomTask 落盘一个房间的元数据。
func (h *ArchiveHandler) ProcessRoomTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.RoomArchivePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("ArchiveHandler: failed to unmarshal room payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.roomRepo.Save(ctx, &payload.Room); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logrus.WithField("room_key", payload.Room.RoomKey).Debug("ArchiveHandler: room already archived")
			return nil
		}
		return fmt.Errorf("failed to archive room %s: %w", payload.Room.RoomKey, err)
	}
	return nil
}
