package service

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/store"
)

// RoomEvents 是房间会话向上层交付状态的回调集。
// 四条订阅彼此独立，没有任何跨流顺序保证：消息可能先于成员
// 列表到达，回调实现必须能渲染任意交错下的初始/空/部分状态。
// 不需要的回调留 nil 即可。
type RoomEvents struct {
	OnRoom     func(domain.Room)
	OnMessages func([]domain.Message)
	OnMembers  func([]domain.Member)
	OnTyping   func([]domain.Typist)
	OnPresence func(map[string]domain.Presence)
}

// SessionController 为一次打开的房间会话组合各组件：
// 一次性的房间目录读取，加上消息流、成员表、输入指示的房间级
// 订阅，以及全局在线状态订阅。
type SessionController struct {
	rooms    *RoomService
	messages *MessageService
	members  *MemberService
	presence *PresenceService
	typing   *TypingService
}

// NewSessionController 创建 SessionController 实例。
func NewSessionController(rooms *RoomService, messages *MessageService, members *MemberService, presence *PresenceService, typing *TypingService) *SessionController {
	if rooms == nil || messages == nil || members == nil || presence == nil || typing == nil {
		panic("all services are required for SessionController")
	}
	return &SessionController{
		rooms:    rooms,
		messages: messages,
		members:  members,
		presence: presence,
		typing:   typing,
	}
}

// Open 打开一个房间会话。房间不存在时返回 ErrRoomNotFound，
// 不建立任何订阅；订阅建立到一半失败时已建立的部分会被回收。
func (c *SessionController) Open(ctx context.Context, roomID, selfUID, selfName string, ev RoomEvents) (*RoomSession, error) {
	room, err := c.rooms.GetRoomInfo(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if ev.OnRoom != nil {
		ev.OnRoom(*room)
	}

	sess := &RoomSession{
		roomID:   roomID,
		selfUID:  selfUID,
		selfName: selfName,
		typing:   c.typing,
	}

	subscribe := func(open func() (store.CancelFunc, error)) error {
		cancel, err := open()
		if err != nil {
			sess.cancelAll()
			return err
		}
		sess.cancels = append(sess.cancels, cancel)
		return nil
	}

	if ev.OnMessages != nil {
		if err := subscribe(func() (store.CancelFunc, error) {
			return c.messages.SubscribeMessages(ctx, roomID, ev.OnMessages)
		}); err != nil {
			return nil, err
		}
	}
	if ev.OnMembers != nil {
		if err := subscribe(func() (store.CancelFunc, error) {
			return c.members.SubscribeMembers(ctx, roomID, ev.OnMembers)
		}); err != nil {
			return nil, err
		}
	}
	if ev.OnTyping != nil {
		if err := subscribe(func() (store.CancelFunc, error) {
			return c.typing.SubscribeTyping(ctx, roomID, selfUID, ev.OnTyping)
		}); err != nil {
			return nil, err
		}
	}
	if ev.OnPresence != nil {
		if err := subscribe(func() (store.CancelFunc, error) {
			return c.presence.SubscribePresence(ctx, ev.OnPresence)
		}); err != nil {
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{"room_id": roomID, "uid": selfUID}).Info("Room session opened")
	return sess, nil
}

// RoomSession 是一次已打开的房间会话的句柄。
type RoomSession struct {
	roomID   string
	selfUID  string
	selfName string
	typing   *TypingService

	mu      sync.Mutex
	cancels []store.CancelFunc
	closed  bool
}

// RoomID 返回会话绑定的房间。
func (s *RoomSession) RoomID() string { return s.roomID }

func (s *RoomSession) cancelAll() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Close 结束会话：取消全部订阅并清除自己的输入指示。
// 重复调用是无害的。
func (s *RoomSession) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelAll()
	if err := s.typing.SetTyping(ctx, s.roomID, s.selfUID, s.selfName, false); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": s.roomID, "uid": s.selfUID}).
			Warn("RoomSession: failed to clear typing state on close")
	}
	logrus.WithFields(logrus.Fields{"room_id": s.roomID, "uid": s.selfUID}).Info("Room session closed")
}
