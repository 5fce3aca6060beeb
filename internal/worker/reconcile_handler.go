package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/service"
)

// 创建后这么久仍没有任何成员的房间视为创建半途失败的残留。
const roomOrphanGrace = 10 * time.Minute

// ReconcileHandler 回收零成员的遗留房间。
type ReconcileHandler struct {
	rooms *service.RoomService
}

// NewReconcileHandler 创建 ReconcileHandler 实例。
func NewReconcileHandler(rooms *service.RoomService) *ReconcileHandler {
	return &ReconcileHandler{rooms: rooms}
}

// ProcessTask 执行一轮房间对账。
func (h *ReconcileHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	cutoff := time.Now().Add(-roomOrphanGrace).UnixMilli()
	reclaimed, err := h.rooms.ReconcileOrphanRooms(ctx, cutoff)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		logrus.WithField("reclaimed", reclaimed).Info("Room reconcile reclaimed orphan rooms")
	}
	return nil
}
