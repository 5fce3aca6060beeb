package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/repository"
)

// GormMessageArchiveRepository 是 MessageArchiveRepository 接口的 GORM 实现。
type GormMessageArchiveRepository struct {
	db *gorm.DB
}

// NewGormMessageArchiveRepository 创建 GormMessageArchiveRepository 实例。
func NewGormMessageArchiveRepository(db *gorm.DB) *GormMessageArchiveRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMessageArchiveRepository")
	}
	return &GormMessageArchiveRepository{db: db}
}

// Save 保存一条消息的落盘副本。
func (r *GormMessageArchiveRepository) Save(ctx context.Context, msg *domain.ArchivedMessage) error {
	err := r.db.WithContext(ctx).Create(msg).Error
	if err != nil {
		// 唯一约束冲突映射为仓库错误（MySQL 1062），
		// 归档任务重试时据此判定为已完成
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save archived message (room: %s, key: %s): %w", msg.RoomKey, msg.MessageKey, err)
	}
	return nil
}

// ListByRoom 按提交时间戳倒序分页返回某房间的历史消息。
func (r *GormMessageArchiveRepository) ListByRoom(ctx context.Context, roomKey string, limit, offset int) ([]domain.ArchivedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var msgs []domain.ArchivedMessage
	err := r.db.WithContext(ctx).
		Where("room_key = ?", roomKey).
		Order("timestamp desc").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list archived messages for room %s: %w", roomKey, err)
	}
	return msgs, nil
}
