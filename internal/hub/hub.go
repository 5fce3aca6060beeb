package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/service"
	"github.com/sk-edz-web/sk.chat/internal/store"
	"github.com/sk-edz-web/sk.chat/internal/tasks"
)

// 包级 WebSocket 常量，hub 与 client 共用。
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// 客户端停止按键后自动清除输入指示的空闲时长
	typingIdleTimeout = 2 * time.Second
)

// HubMessage 是 Hub 内部通道传递的消息。
type HubMessage struct {
	Type    string // "register", "unregister", "frame"
	Client  *Client
	RawData []byte // 仅 frame 使用
}

// Command 是客户端经 WebSocket 发来的指令。
type Command struct {
	Type      string `json:"type"` // "message", "typing", "reaction", "delete"
	Text      string `json:"text,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
	IsTyping  bool   `json:"isTyping,omitempty"`
}

// Event 是推送给客户端的状态事件。
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Hub 维护活跃客户端集合，把客户端指令路由到各 Service，
// 并为每个客户端打开/关闭其房间会话与存储会话。
type Hub struct {
	messageChan chan HubMessage
	quit        chan struct{}

	rooms   map[string]map[*Client]bool
	roomsMu sync.RWMutex

	st          store.Store
	controller  *service.SessionController
	messages    *service.MessageService
	typing      *service.TypingService
	presence    *service.PresenceService
	asynqClient *asynq.Client
}

// NewHub 创建 Hub 实例。asynqClient 可以为 nil（不做归档）。
func NewHub(st store.Store, controller *service.SessionController, messages *service.MessageService, typing *service.TypingService, presence *service.PresenceService, asynqClient *asynq.Client) *Hub {
	if st == nil || controller == nil || messages == nil || typing == nil || presence == nil {
		panic("store and services cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		quit:        make(chan struct{}),
		rooms:       make(map[string]map[*Client]bool),
		st:          st,
		controller:  controller,
		messages:    messages,
		typing:      typing,
		presence:    presence,
		asynqClient: asynqClient,
	}
}

// Run 启动 Hub 的主事件循环，应在单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running")

	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			case "frame":
				// 指令处理可能涉及存储 IO，不能阻塞主循环
				go h.handleCommand(msg.Client, msg.RawData)
			default:
				log.Warnf("Hub: unknown message type %q", msg.Type)
			}
		case <-h.quit:
			log.Info("Hub stopped")
			return
		}
	}
}

// QueueMessage 非阻塞地把消息放入处理队列；队列满时丢弃并返回 false。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": client.roomID, "uid": client.user.UID})

	h.roomsMu.Lock()
	if _, ok := h.rooms[client.roomID]; !ok {
		h.rooms[client.roomID] = make(map[*Client]bool)
	}
	h.rooms[client.roomID][client] = true
	h.roomsMu.Unlock()

	ctx := context.Background()

	// 存储会话持有断开补偿：连接无论以何种方式终止，
	// 下线写入都会被执行。
	client.storeSess = store.NewSession(h.st)
	if err := h.presence.BeginSession(ctx, client.user.UID, client.storeSess); err != nil {
		logCtx.WithError(err).Error("Hub: failed to begin presence session")
	}

	sess, err := h.controller.Open(ctx, client.roomID, client.user.UID, client.user.DisplayName(), service.RoomEvents{
		OnRoom:     func(r domain.Room) { client.sendEvent(Event{Type: "room", Payload: r}) },
		OnMessages: func(ms []domain.Message) { client.sendEvent(Event{Type: "messages", Payload: ms}) },
		OnMembers:  func(ms []domain.Member) { client.sendEvent(Event{Type: "members", Payload: ms}) },
		OnTyping:   func(ts []domain.Typist) { client.sendEvent(Event{Type: "typing", Payload: ts}) },
		OnPresence: func(p map[string]domain.Presence) { client.sendEvent(Event{Type: "presence", Payload: p}) },
	})
	if err != nil {
		logCtx.WithError(err).Error("Hub: failed to open room session")
		client.sendEvent(Event{Type: "error", Message: "failed to open room session"})
		client.CloseConn()
		return
	}
	client.session = sess
	logCtx.Info("Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": client.roomID, "uid": client.user.UID})

	h.roomsMu.Lock()
	registered := false
	if roomClients, ok := h.rooms[client.roomID]; ok {
		if _, exists := roomClients[client]; exists {
			registered = true
			delete(roomClients, client)
			if len(roomClients) == 0 {
				delete(h.rooms, client.roomID)
			}
		}
	}
	h.roomsMu.Unlock()
	if !registered {
		return // 重复注销（ReadPump 与 Shutdown 都会触发）
	}

	ctx := context.Background()
	client.stopTypingTimer()
	// 先取消订阅，再通过 done 通知 WritePump 退出。
	// 订阅回调和在途指令处理可能仍在并发调用 sendEvent，
	// 迟到的交付在 sendEvent 里被丢弃，send 通道永不关闭。
	if client.session != nil {
		client.session.Close(ctx)
	}
	if client.storeSess != nil {
		// 执行断开补偿（含在线状态的下线写入）
		_ = client.storeSess.Close(ctx)
	}
	client.markClosed()
	logCtx.Info("Client unregistered")
}

// handleCommand 解析并执行一条客户端指令。
func (h *Hub) handleCommand(client *Client, raw []byte) {
	if client == nil {
		return
	}
	ctx := context.Background()
	logCtx := logrus.WithFields(logrus.Fields{"room_id": client.roomID, "uid": client.user.UID})

	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		logCtx.WithError(err).Warn("Hub: undecodable client command")
		client.sendEvent(Event{Type: "error", Message: "invalid command"})
		return
	}

	switch cmd.Type {
	case "message":
		h.handleSend(ctx, client, cmd.Text)
	case "typing":
		h.handleTyping(ctx, client, cmd.IsTyping)
	case "reaction":
		if _, err := h.messages.ToggleReaction(ctx, client.roomID, cmd.MessageID, cmd.Emoji, client.user.UID); err != nil {
			logCtx.WithError(err).Warn("Hub: toggle reaction failed")
		}
	case "delete":
		h.handleDelete(ctx, client, cmd.MessageID)
	default:
		logCtx.Warnf("Hub: unknown command type %q", cmd.Type)
		client.sendEvent(Event{Type: "error", Message: "unknown command"})
	}
}

// handleSend 发送一条消息。对调用方是 fire-and-forget：
// 失败只回送错误事件，不影响连接。
func (h *Hub) handleSend(ctx context.Context, client *Client, text string) {
	client.stopTypingTimer()
	if err := h.typing.SetTyping(ctx, client.roomID, client.user.UID, client.user.DisplayName(), false); err != nil {
		logrus.WithError(err).Warn("Hub: failed to clear typing before send")
	}

	msgID, ts, err := h.messages.SendMessage(ctx, client.roomID, client.user.UID, client.user.DisplayName(), client.user.Avatar(), text)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			client.sendEvent(Event{Type: "error", Message: "empty message"})
			return
		}
		logrus.WithError(err).WithField("room_id", client.roomID).Error("Hub: send message failed")
		client.sendEvent(Event{Type: "error", Message: "failed to send message"})
		return
	}

	h.enqueueMessageArchive(client, msgID, ts, text)
}

func (h *Hub) enqueueMessageArchive(client *Client, msgID string, ts int64, text string) {
	if h.asynqClient == nil {
		return
	}
	task, err := tasks.NewMessageArchiveTask(domain.ArchivedMessage{
		RoomKey:    client.roomID,
		MessageKey: msgID,
		SenderUID:  client.user.UID,
		SenderName: client.user.DisplayName(),
		Text:       text,
		Timestamp:  ts,
	})
	if err != nil {
		logrus.WithError(err).Warn("Hub: failed to build archive task")
		return
	}
	if _, err := h.asynqClient.Enqueue(task, asynq.Queue("low")); err != nil {
		logrus.WithError(err).Warn("Hub: failed to enqueue archive task")
	}
}

// handleTyping 处理输入指示：置位时（重新）武装空闲定时器，
// 定时器到期自动清除指示，模拟原生客户端的按键节律。
func (h *Hub) handleTyping(ctx context.Context, client *Client, isTyping bool) {
	name := client.user.DisplayName()
	if err := h.typing.SetTyping(ctx, client.roomID, client.user.UID, name, isTyping); err != nil {
		logrus.WithError(err).Warn("Hub: set typing failed")
		return
	}
	if isTyping {
		client.armTypingTimer(typingIdleTimeout, func() {
			if err := h.typing.SetTyping(context.Background(), client.roomID, client.user.UID, name, false); err != nil {
				logrus.WithError(err).Warn("Hub: idle typing clear failed")
			}
		})
	} else {
		client.stopTypingTimer()
	}
}

// handleDelete 删除消息。仅发送者可删除自己的消息；
// 角色只是数据，这里是调用层唯一的授权检查点。
func (h *Hub) handleDelete(ctx context.Context, client *Client, msgID string) {
	msg, err := h.messages.GetMessage(ctx, client.roomID, msgID)
	if err != nil {
		if errors.Is(err, store.ErrAbsent) {
			return // 已经没了，幂等
		}
		logrus.WithError(err).Warn("Hub: delete lookup failed")
		return
	}
	if msg.SenderUID != client.user.UID {
		client.sendEvent(Event{Type: "error", Message: "cannot delete another member's message"})
		return
	}
	if err := h.messages.DeleteMessage(ctx, client.roomID, msgID); err != nil {
		logrus.WithError(err).Warn("Hub: delete message failed")
	}
}

// Shutdown 注销所有仍在线的客户端并停止主循环。
// messageChan 不关闭：各 ReadPump 退出时迟到的注销消息
// 只会留在缓冲里，不会命中已关闭的通道。
func (h *Hub) Shutdown() {
	h.roomsMu.RLock()
	var clients []*Client
	for _, roomClients := range h.rooms {
		for client := range roomClients {
			clients = append(clients, client)
		}
	}
	h.roomsMu.RUnlock()

	for _, client := range clients {
		h.unregisterClient(client)
		client.CloseConn()
	}
	close(h.quit)
}
