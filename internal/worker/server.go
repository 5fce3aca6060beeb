package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/repository"
	"github.com/sk-edz-web/sk.chat/internal/service"
	"github.com/sk-edz-web/sk.chat/internal/tasks"
)

// WorkerServer 封装 Asynq Worker Server 的启动和关闭逻辑。
// 归档任务走队列重试，清扫/对账任务由调度器周期触发。
type WorkerServer struct {
	server *asynq.Server
	log    *logrus.Entry

	msgArchiveRepo  repository.MessageArchiveRepository
	roomArchiveRepo repository.RoomArchiveRepository
	rooms           *service.RoomService
	typing          *service.TypingService
	presence        *service.PresenceService
}

// NewWorkerServer 创建 WorkerServer 实例。
func NewWorkerServer(
	redisOpt asynq.RedisClientOpt,
	msgArchiveRepo repository.MessageArchiveRepository,
	roomArchiveRepo repository.RoomArchiveRepository,
	rooms *service.RoomService,
	typing *service.TypingService,
	presence *service.PresenceService,
	logger *logrus.Logger,
) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:          server,
		log:             logEntry,
		msgArchiveRepo:  msgArchiveRepo,
		roomArchiveRepo: roomArchiveRepo,
		rooms:           rooms,
		typing:          typing,
		presence:        presence,
	}
}

// Start 运行 Worker Server，应在单独的 goroutine 中调用。
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()

	// 归档库可选，没有配置时只跑清扫和对账
	if ws.msgArchiveRepo != nil && ws.roomArchiveRepo != nil {
		archiveHandler := NewArchiveHandler(ws.msgArchiveRepo, ws.roomArchiveRepo)
		mux.HandleFunc(tasks.TypeMessageArchive, archiveHandler.ProcessMessageTask)
		mux.HandleFunc(tasks.TypeRoomArchive, archiveHandler.ProcessRoomTask)
	}

	sweepHandler := NewSweepHandler(ws.typing, ws.presence)
	mux.HandleFunc(tasks.TypeTypingSweep, sweepHandler.ProcessTypingSweep)
	mux.HandleFunc(tasks.TypePresenceSweep, sweepHandler.ProcessPresenceSweep)

	reconcileHandler := NewReconcileHandler(ws.rooms)
	mux.HandleFunc(tasks.TypeRoomReconcile, reconcileHandler.ProcessTask)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown 优雅地关闭 Worker Server。
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
