package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/service"
)

// 清扫阈值。输入指示的正常回收路径是客户端定时器和会话关闭，
// 在线状态的正常路径是断开补偿；这里的阈值只需兜住进程崩溃，
// 取得比正常路径宽松得多。
const (
	typingStaleAfter   = 30 * time.Second
	presenceLeaseAfter = 5 * time.Minute
)

// SweepHandler 处理周期性的状态回收任务。
type SweepHandler struct {
	typing   *service.TypingService
	presence *service.PresenceService
}

// NewSweepHandler 创建 SweepHandler 实例。
func NewSweepHandler(typing *service.TypingService, presence *service.PresenceService) *SweepHandler {
	return &SweepHandler{typing: typing, presence: presence}
}

// ProcessTypingSweep 清除陈旧的输入指示。
func (h *SweepHandler) ProcessTypingSweep(ctx context.Context, t *asynq.Task) error {
	cutoff := time.Now().Add(-typingStaleAfter).UnixMilli()
	removed, err := h.typing.SweepStaleTypists(ctx, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		logrus.WithField("removed", removed).Info("Typing sweep removed stale indicators")
	}
	return nil
}

// ProcessPresenceSweep 把租约过期的用户置为下线。
func (h *SweepHandler) ProcessPresenceSweep(ctx context.Context, t *asynq.Task) error {
	cutoff := time.Now().Add(-presenceLeaseAfter).UnixMilli()
	swept, err := h.presence.SweepStalePresence(ctx, cutoff)
	if err != nil {
		return err
	}
	if swept > 0 {
		logrus.WithField("swept", swept).Info("Presence sweep marked stale sessions offline")
	}
	return nil
}
