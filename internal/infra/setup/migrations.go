package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/sk-edz-web/sk.chat/internal/domain"
)

// MigrateDB 迁移归档库的表结构。归档表的字符串键都限制在
// 191 字符以内，避免 utf8mb4 下超出 MySQL 索引长度限制。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	err := db.AutoMigrate(
		&domain.ArchivedRoom{},
		&domain.ArchivedMessage{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate archive tables: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}
