package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/store"
)

// MemberService 提供房间成员集的实时视图。角色在这里只是数据，
// 不做任何授权判断；展示排序为 admin > moderator > member。
type MemberService struct {
	st store.Store
}

// NewMemberService 创建 MemberService 实例。
func NewMemberService(st store.Store) *MemberService {
	if st == nil {
		panic("store cannot be nil for MemberService")
	}
	return &MemberService{st: st}
}

// SubscribeMembers 订阅房间成员列表：立即交付当前完整列表，
// 之后任何成员的增删改都会重新交付。
func (s *MemberService) SubscribeMembers(ctx context.Context, roomID string, fn func([]domain.Member)) (store.CancelFunc, error) {
	cancel, err := s.st.Subscribe(ctx, membersPath(roomID), func(snap store.Snapshot) {
		fn(decodeMembers(snap))
	})
	if err != nil {
		return nil, storeErr("subscribe(members)", err)
	}
	return cancel, nil
}

// ListMembers 一次性读取房间当前成员列表。
func (s *MemberService) ListMembers(ctx context.Context, roomID string) ([]domain.Member, error) {
	snap, err := s.st.ReadTree(ctx, membersPath(roomID))
	if err != nil {
		return nil, storeErr("readTree(members)", err)
	}
	return decodeMembers(snap), nil
}

func decodeMembers(snap store.Snapshot) []domain.Member {
	members := make([]domain.Member, 0, len(snap))
	for rel, raw := range snap {
		if strings.Contains(rel, "/") || rel == "" {
			continue
		}
		var m domain.Member
		if err := json.Unmarshal(raw, &m); err != nil {
			logrus.WithError(err).WithField("uid", rel).Warn("Members: skipping undecodable record")
			continue
		}
		m.UID = rel
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Role.Rank() != members[j].Role.Rank() {
			return members[i].Role.Rank() < members[j].Role.Rank()
		}
		if members[i].JoinedAt != members[j].JoinedAt {
			return members[i].JoinedAt < members[j].JoinedAt
		}
		return members[i].UID < members[j].UID
	})
	return members
}
