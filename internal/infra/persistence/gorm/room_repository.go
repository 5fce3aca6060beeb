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

// GormRoomArchiveRepository 是 RoomArchiveRepository 接口的 GORM 实现。
type GormRoomArchiveRepository struct {
	db *gorm.DB
}

// NewGormRoomArchiveRepository 创建 GormRoomArchiveRepository 实例。
func NewGormRoomArchiveRepository(db *gorm.DB) *GormRoomArchiveRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomArchiveRepository")
	}
	return &GormRoomArchiveRepository{db: db}
}

// Save 保存一个房间的落盘副本。
func (r *GormRoomArchiveRepository) Save(ctx context.Context, room *domain.ArchivedRoom) error {
	err := r.db.WithContext(ctx).Create(room).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save archived room %s: %w", room.RoomKey, err)
	}
	return nil
}
