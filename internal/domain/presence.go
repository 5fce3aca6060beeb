package domain

// Presence 表示一个用户的全局在线状态。
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"`
}
