package domain

// Role 是成员在房间内的角色标签。本核心只把角色当作数据；
// 任何基于角色的授权检查都属于调用层。
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Rank 返回用于展示排序的权重：admin > moderator > member。
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 0
	case RoleModerator:
		return 1
	default:
		return 2
	}
}

// Member 表示一条 (roomId, uid) 维度的成员记录。
type Member struct {
	UID      string `json:"-"` // 来自存储 key
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Role     Role   `json:"role"`
	JoinedAt int64  `json:"joinedAt"`
}
