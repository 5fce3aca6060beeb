package domain

// RoomType 区分公开房间与需要密码的私密房间。
type RoomType string

const (
	RoomPublic  RoomType = "public"
	RoomPrivate RoomType = "private"
)

// Valid 报告 t 是否为已知的房间类型。
func (t RoomType) Valid() bool {
	return t == RoomPublic || t == RoomPrivate
}

// Room 表示一个聊天房间。除 LastMessage/LastMessageTime 外所有字段
// 在创建后不可变；摘要字段允许任何发送者以 last-write-wins 方式更新。
type Room struct {
	ID              string   `json:"id,omitempty"` // 来自存储 key，不写入记录本身
	Name            string   `json:"name"`
	Type            RoomType `json:"type"`
	PasswordHash    string   `json:"passwordHash,omitempty"` // 私密房间的 bcrypt 哈希
	Description     string   `json:"description"`
	CreatedBy       string   `json:"createdBy"`
	CreatedAt       int64    `json:"createdAt"`
	LastMessage     string   `json:"lastMessage"`
	LastMessageTime int64    `json:"lastMessageTime"`
}
