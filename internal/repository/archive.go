package repository

import (
	"context"

	"github.com/sk-edz-web/sk.chat/internal/domain"
)

// MessageArchiveRepository 定义消息落盘副本的存储和查询。
type MessageArchiveRepository interface {
	// Save 保存一条消息的落盘副本。重复归档同一条消息返回
	// ErrDuplicateEntry，调用方可将其视为成功。
	Save(ctx context.Context, msg *domain.ArchivedMessage) error

	// ListByRoom 按提交时间戳倒序分页返回某房间的历史消息。
	ListByRoom(ctx context.Context, roomKey string, limit, offset int) ([]domain.ArchivedMessage, error)
}

// RoomArchiveRepository 定义房间元数据落盘副本的存储。
type RoomArchiveRepository interface {
	// Save 保存一个房间的落盘副本，重复归档返回 ErrDuplicateEntry。
	Save(ctx context.Context, room *domain.ArchivedRoom) error
}
