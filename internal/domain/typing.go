package domain

// Typist 表示某个房间内一条"正在输入"的瞬态记录。
// 记录不存在即表示未在输入。
type Typist struct {
	UID       string `json:"-"` // 来自存储 key
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}
