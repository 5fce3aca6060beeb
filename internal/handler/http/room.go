package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/identity"
	"github.com/sk-edz-web/sk.chat/internal/repository"
	"github.com/sk-edz-web/sk.chat/internal/service"
	"github.com/sk-edz-web/sk.chat/internal/tasks"
)

// RoomHandler 封装房间管理相关的 HTTP 处理逻辑。
// 实时交互走 WebSocket；这里只承载会话之外的操作。
type RoomHandler struct {
	roomService *service.RoomService
	members     *service.MemberService
	archive     repository.MessageArchiveRepository
	asynqClient *asynq.Client
}

// NewRoomHandler 创建 RoomHandler 实例。
// archive 和 asynqClient 可为 nil（无历史查询、无归档）。
func NewRoomHandler(roomService *service.RoomService, members *service.MemberService, archive repository.MessageArchiveRepository, asynqClient *asynq.Client) *RoomHandler {
	if roomService == nil || members == nil {
		panic("room and member services cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService, members: members, archive: archive, asynqClient: asynqClient}
}

// CreateRoomRequest 定义创建房间请求的结构体。
type CreateRoomRequest struct {
	Name        string `json:"name" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Description string `json:"description"`
	Password    string `json:"password"`
}

// CreateRoomResponse 定义创建房间成功的响应结构体。
type CreateRoomResponse struct {
	Message string `json:"message"`
	RoomID  string `json:"room_id"`
}

// CreateRoom 处理创建新房间的请求。
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	user, ok := identity.FromContext(c)
	if !ok {
		logrus.Warn("Handler.CreateRoom: identity not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	logCtx := logrus.WithField("uid", user.UID)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: name and type are required")
		return
	}

	roomID, err := h.roomService.CreateRoom(c.Request.Context(), service.CreateRoomInput{
		Name:          req.Name,
		Type:          domain.RoomType(req.Type),
		Description:   req.Description,
		Password:      req.Password,
		CreatorUID:    user.UID,
		CreatorName:   user.DisplayName(),
		CreatorAvatar: user.Avatar(),
	})
	if err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: failed to create room via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("room_id", roomID).Info("Handler.CreateRoom: room created successfully")
	h.enqueueRoomArchive(roomID, req, user.UID)
	SuccessResponse(c, http.StatusOK, CreateRoomResponse{
		Message: "Room created successfully",
		RoomID:  roomID,
	})
}

func (h *RoomHandler) enqueueRoomArchive(roomID string, req CreateRoomRequest, creatorUID string) {
	if h.asynqClient == nil {
		return
	}
	task, err := tasks.NewRoomArchiveTask(domain.ArchivedRoom{
		RoomKey:   roomID,
		Name:      req.Name,
		Type:      req.Type,
		CreatedBy: creatorUID,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logrus.WithError(err).Warn("Handler.CreateRoom: failed to build room archive task")
		return
	}
	if _, err := h.asynqClient.Enqueue(task, asynq.Queue("low")); err != nil {
		logrus.WithError(err).Warn("Handler.CreateRoom: failed to enqueue room archive task")
	}
}

// ListMyRooms 返回当前用户已加入的房间列表。
func (h *RoomHandler) ListMyRooms(c *gin.Context) {
	user, ok := identity.FromContext(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}

	rooms, err := h.roomService.ListUserRooms(c.Request.Context(), user.UID)
	if err != nil {
		logrus.WithError(err).WithField("uid", user.UID).Error("Handler.ListMyRooms: failed to list rooms")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"rooms": rooms})
}

// GetRoom 返回单个房间的目录信息和当前成员列表。
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	room, err := h.roomService.GetRoomInfo(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	members, err := h.members.ListMembers(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"room": room, "members": members})
}

// JoinRoomRequest 定义加入房间请求的结构体。
type JoinRoomRequest struct {
	Password string `json:"password"`
}

// JoinRoom 处理用户加入房间的请求。私密房间需要在请求体携带密码。
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	user, ok := identity.FromContext(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	roomID := c.Param("roomId")
	logCtx := logrus.WithFields(logrus.Fields{"uid": user.UID, "room_id": roomID})

	var req JoinRoomRequest
	// 公开房间可以没有请求体
	_ = c.ShouldBindJSON(&req)

	err := h.roomService.JoinRoom(c.Request.Context(), roomID, user.UID, user.DisplayName(), user.Avatar(), req.Password)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: failed to join room via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.Info("Handler.JoinRoom: user joined room successfully")
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Joined room successfully", "room_id": roomID})
}

// LeaveRoom 处理用户退出房间的请求。
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	user, ok := identity.FromContext(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	roomID := c.Param("roomId")

	if err := h.roomService.LeaveRoom(c.Request.Context(), roomID, user.UID); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"uid": user.UID, "room_id": roomID}).
			Warn("Handler.LeaveRoom: failed to leave room")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Left room successfully", "room_id": roomID})
}

// History 从归档库分页返回房间的历史消息。
// 查询参数: limit (默认 50)、offset (默认 0)。
func (h *RoomHandler) History(c *gin.Context) {
	if h.archive == nil {
		ErrorResponse(c, http.StatusNotImplemented, "Message history is not enabled")
		return
	}
	roomID := c.Param("roomId")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	msgs, err := h.archive.ListByRoom(c.Request.Context(), roomID, limit, offset)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Handler.History: archive query failed")
		ErrorResponse(c, http.StatusInternalServerError, "Failed to load message history")
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"messages": msgs})
}
