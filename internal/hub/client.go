package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/identity"
	"github.com/sk-edz-web/sk.chat/internal/service"
	"github.com/sk-edz-web/sk.chat/internal/store"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
// 一条连接绑定一个用户和一个房间；会话对象由 Hub 在注册时填充。
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	user   identity.User
	roomID string
	send   chan []byte

	// 注销时由 Hub 关闭。send 通道本身永不关闭：
	// 订阅回调和在途指令都可能并发调用 sendEvent。
	done      chan struct{}
	closeOnce sync.Once

	// 由 Hub 在 register/unregister 期间填充与回收
	session   *service.RoomSession
	storeSess *store.Session

	typingMu    sync.Mutex
	typingTimer *time.Timer
}

// NewClient 创建一个新的 Client 实例。
func NewClient(hub *Hub, conn *websocket.Conn, user identity.User, roomID string) *Client {
	return &Client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		user:   user,
		roomID: roomID,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// Run 启动客户端的读写 goroutine。
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) RoomID() string      { return c.roomID }
func (c *Client) User() identity.User { return c.user }

func (c *Client) CloseConn() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// markClosed 标记客户端已注销：WritePump 退出，
// 之后的事件交付被 sendEvent 丢弃。可重复调用。
func (c *Client) markClosed() {
	c.closeOnce.Do(func() { close(c.done) })
}

// sendEvent 把事件编码后放入发送通道；客户端已注销或通道满时丢弃。
// 订阅回调总是交付完整快照，丢掉一帧只会让客户端晚一拍看到状态。
func (c *Client) sendEvent(ev Event) {
	select {
	case <-c.done:
		return
	default:
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logrus.WithError(err).WithField("event_type", ev.Type).Error("Client: failed to encode event")
		return
	}
	select {
	case c.send <- data:
	default:
		logrus.WithFields(logrus.Fields{"uid": c.user.UID, "room_id": c.roomID, "event_type": ev.Type}).
			Warn("Client send channel full, dropping event")
	}
}

// armTypingTimer 重置输入空闲定时器；到期时执行 expire。
func (c *Client) armTypingTimer(d time.Duration, expire func()) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(d, expire)
}

// stopTypingTimer 停止输入空闲定时器（如果有）。
func (c *Client) stopTypingTimer() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
}

// ReadPump 将消息从 WebSocket 连接泵送到 Hub 的处理通道。
// 在自己的 goroutine 中运行；退出时触发注销。
func (c *Client) ReadPump() {
	defer func() {
		unregisterMsg := HubMessage{Type: "unregister", Client: c}
		select {
		case c.hub.messageChan <- unregisterMsg:
		case <-time.After(1 * time.Second):
			logrus.WithFields(logrus.Fields{"uid": c.user.UID, "room_id": c.roomID}).
				Warn("Timeout sending unregister message to Hub channel")
		}
		c.conn.Close()
		logrus.WithFields(logrus.Fields{"uid": c.user.UID, "room_id": c.roomID}).Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		// Pong 兼作在线租约的续期信号
		if err := c.hub.presence.Touch(context.Background(), c.user.UID); err != nil {
			logrus.WithError(err).WithField("uid", c.user.UID).Debug("Client: presence touch failed")
		}
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logCtx := logrus.WithFields(logrus.Fields{"uid": c.user.UID, "room_id": c.roomID})
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			break
		}

		if messageType != websocket.TextMessage {
			logrus.WithFields(logrus.Fields{"uid": c.user.UID, "room_id": c.roomID}).
				Debugf("Received non-text message type: %d", messageType)
			continue
		}

		frame := HubMessage{Type: "frame", Client: c, RawData: message}
		if !c.hub.QueueMessage(frame) {
			c.sendEvent(Event{Type: "error", Message: "server busy, command dropped"})
		}
	}
}

// WritePump 将消息从 send 通道泵送到 WebSocket 连接，并定期发送 Ping。
// 在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logrus.WithFields(logrus.Fields{"uid": c.user.UID, "room_id": c.roomID}).Info("writePump exited")
	}()

	for {
		select {
		case <-c.done:
			// Hub 已注销该客户端
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithFields(logrus.Fields{"uid": c.user.UID, "room_id": c.roomID}).
					WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logrus.WithFields(logrus.Fields{"uid": c.user.UID, "room_id": c.roomID}).
					WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}
