package domain

// Message 表示消息流中的一条消息。除 Reactions 外不可变；
// 删除是整条记录的硬删除，没有墓碑。
type Message struct {
	ID           string `json:"id,omitempty"` // 来自存储 key
	SenderUID    string `json:"senderUid"`
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar"`
	Text         string `json:"text"`
	// Timestamp 由存储端在提交时分配，是权威的渲染排序键。
	Timestamp int64 `json:"timestamp"`
	// Reactions 是 emoji -> 点过该表情的 uid 集合。
	Reactions map[string]map[string]bool `json:"reactions,omitempty"`
}
