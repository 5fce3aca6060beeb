package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/sk-edz-web/sk.chat/internal/domain"
)

// 定义任务类型常量
const (
	TypeMessageArchive = "message:archive" // 消息写入落地归档
	TypeRoomArchive    = "room:archive"    // 房间目录落地归档
	TypeTypingSweep    = "typing:sweep"    // 清理过期的输入指示
	TypePresenceSweep  = "presence:sweep"  // 回收失联会话的在线状态
	TypeRoomReconcile  = "room:reconcile"  // 回收零成员的遗留房间
)

// MessageArchivePayload 定义消息归档任务的数据结构。
type MessageArchivePayload struct {
	Message domain.ArchivedMessage
}

// RoomArchivePayload 定义房间归档任务的数据结构。
type RoomArchivePayload struct {
	Room domain.ArchivedRoom
}

// NewMessageArchiveTask 创建一个消息归档任务。
func NewMessageArchiveTask(msg domain.ArchivedMessage) (*asynq.Task, error) {
	payload, err := json.Marshal(MessageArchivePayload{Message: msg})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMessageArchive, payload), nil
}

// NewRoomArchiveTask 创建一个房间归档任务。
func NewRoomArchiveTask(room domain.ArchivedRoom) (*asynq.Task, error) {
	payload, err := json.Marshal(RoomArchivePayload{Room: room})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomArchive, payload), nil
}

// NewTypingSweepTask 创建一个输入指示清扫任务（周期性调度）。
func NewTypingSweepTask() *asynq.Task {
	return asynq.NewTask(TypeTypingSweep, nil)
}

// NewPresenceSweepTask 创建一个在线状态清扫任务（周期性调度）。
func NewPresenceSweepTask() *asynq.Task {
	return asynq.NewTask(TypePresenceSweep, nil)
}

// NewRoomReconcileTask 创建一个房间对账任务（周期性调度）。
func NewRoomReconcileTask() *asynq.Task {
	return asynq.NewTask(TypeRoomReconcile, nil)
}
