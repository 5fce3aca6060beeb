package domain

import "time"

// ArchivedRoom 是房间元数据在 MySQL 中的落盘副本，由后台任务写入。
// 实时存储仍是活动状态的唯一权威来源。
type ArchivedRoom struct {
	ID        uint      `gorm:"primaryKey"`
	RoomKey   string    `gorm:"uniqueIndex;size:191;not null"` // 实时存储分配的房间 key
	Name      string    `gorm:"size:191;not null"`
	Type      string    `gorm:"size:20;not null"`
	CreatedBy string    `gorm:"size:191;index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// ArchivedMessage 是消息的落盘副本，用于历史查询与审计。
type ArchivedMessage struct {
	ID         uint      `gorm:"primaryKey"`
	RoomKey    string    `gorm:"index;size:191;not null"`
	MessageKey string    `gorm:"uniqueIndex;size:191;not null"`
	SenderUID  string    `gorm:"size:191;index;not null"`
	SenderName string    `gorm:"size:191;not null"`
	Text       string    `gorm:"type:text;not null"`
	Timestamp  int64     `gorm:"index;not null"` // 存储端分配的提交时间戳（毫秒）
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}
