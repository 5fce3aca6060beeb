package store

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Session 将若干补偿写入绑定到一条连接的生命周期上。
// 连接断开（无论是否优雅）时由传输层调用 Close，所有已登记的
// 补偿按登记顺序执行；这保证了诸如"下线状态"这类写入即使在
// 客户端代码再也没有机会运行时也会发生。
type Session struct {
	st Store

	mu     sync.Mutex
	ops    []compensation
	byPath map[string]int
	closed bool
}

type compensation struct {
	path   string
	value  map[string]interface{}
	remove bool
}

// NewSession 创建一个绑定到 st 的 Session。
func NewSession(st Store) *Session {
	return &Session{st: st, byPath: make(map[string]int)}
}

// OnDisconnectWrite 登记一条断开时执行的写入。
// 同一路径重复登记时后者覆盖前者。value 中可以包含
// ServerTimestamp 哨兵，执行时由存储端替换。
func (s *Session) OnDisconnectWrite(path string, value map[string]interface{}) {
	s.register(compensation{path: path, value: value})
}

// OnDisconnectRemove 登记一条断开时执行的删除。
func (s *Session) OnDisconnectRemove(path string) {
	s.register(compensation{path: path, remove: true})
}

// Cancel 撤销指定路径上已登记的补偿。
func (s *Session) Cancel(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byPath[path]; ok {
		s.ops[idx] = compensation{}
		delete(s.byPath, path)
	}
}

func (s *Session) register(op compensation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if idx, ok := s.byPath[op.path]; ok {
		s.ops[idx] = op
		return
	}
	s.byPath[op.path] = len(s.ops)
	s.ops = append(s.ops, op)
}

// Close 执行所有已登记的补偿。补偿是尽力而为的：单条失败只记录
// 日志，不阻止后续补偿执行。重复调用 Close 是无害的。
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ops := s.ops
	s.ops = nil
	s.mu.Unlock()

	var firstErr error
	for _, op := range ops {
		if op.path == "" {
			continue // 已被 Cancel
		}
		var err error
		switch {
		case op.remove:
			err = s.st.Remove(ctx, op.path)
		case HasServerTimestamp(op.value):
			_, err = s.st.WriteWithServerTimestamp(ctx, op.path, op.value)
		default:
			err = s.st.Write(ctx, op.path, op.value)
		}
		if err != nil {
			logrus.WithError(err).WithField("path", op.path).Warn("Session: disconnect compensation failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
