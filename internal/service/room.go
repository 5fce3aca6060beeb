package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/sk-edz-web/sk.chat/internal/domain"
	"github.com/sk-edz-web/sk.chat/internal/store"
)

// RoomService 负责房间目录与生命周期：创建、查询、加入、退出，
// 以及按用户枚举房间。
type RoomService struct {
	st store.Store
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(st store.Store) *RoomService {
	if st == nil {
		panic("store cannot be nil for RoomService")
	}
	return &RoomService{st: st}
}

// CreateRoomInput 是创建房间所需的全部输入。
type CreateRoomInput struct {
	Name          string
	Type          domain.RoomType
	Description   string
	Password      string // 仅私密房间需要
	CreatorUID    string
	CreatorName   string
	CreatorAvatar string
}

// CreateRoom 创建房间并把创建者写为 admin 成员。
// 三次写入（房间、成员、用户索引）不是原子的；后两次失败时执行
// 补偿删除，残留的半成品房间由周期性对账任务兜底清理。
func (s *RoomService) CreateRoom(ctx context.Context, in CreateRoomInput) (string, error) {
	logCtx := logrus.WithFields(logrus.Fields{"creator_uid": in.CreatorUID, "room_name": in.Name})

	if len(in.Name) < 3 {
		return "", validationErr("room name must be at least 3 characters")
	}
	if !in.Type.Valid() {
		return "", validationErr("unknown room type %q", in.Type)
	}
	var passwordHash string
	if in.Type == domain.RoomPrivate {
		if len(in.Password) < 6 {
			return "", validationErr("private room password must be at least 6 characters")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return "", validationErr("unusable password: %v", err)
		}
		passwordHash = string(hash)
	}

	roomID, err := s.st.PushKey(ctx, roomsRoot)
	if err != nil {
		return "", storeErr("pushKey(rooms)", err)
	}
	logCtx = logCtx.WithField("room_id", roomID)

	_, err = s.st.WriteWithServerTimestamp(ctx, roomPath(roomID), map[string]interface{}{
		"name":            in.Name,
		"type":            string(in.Type),
		"passwordHash":    passwordHash,
		"description":     in.Description,
		"createdBy":       in.CreatorUID,
		"createdAt":       store.ServerTimestamp,
		"lastMessage":     "",
		"lastMessageTime": store.ServerTimestamp,
	})
	if err != nil {
		logCtx.WithError(err).Error("CreateRoom: failed to write room record")
		return "", storeErr("write(room)", err)
	}

	_, err = s.st.WriteWithServerTimestamp(ctx, memberPath(roomID, in.CreatorUID), map[string]interface{}{
		"name":     in.CreatorName,
		"avatar":   in.CreatorAvatar,
		"role":     string(domain.RoleAdmin),
		"joinedAt": store.ServerTimestamp,
	})
	if err != nil {
		logCtx.WithError(err).Error("CreateRoom: failed to write creator membership, compensating")
		s.compensateCreate(ctx, roomID, in.CreatorUID)
		return "", storeErr("write(membership)", err)
	}

	if err := s.st.Write(ctx, userRoomPath(in.CreatorUID, roomID), true); err != nil {
		logCtx.WithError(err).Error("CreateRoom: failed to write user room index, compensating")
		s.compensateCreate(ctx, roomID, in.CreatorUID)
		return "", storeErr("write(userRoomIndex)", err)
	}

	logCtx.Info("Room created")
	return roomID, nil
}

// compensateCreate 尽力回滚部分完成的房间创建。
func (s *RoomService) compensateCreate(ctx context.Context, roomID, creatorUID string) {
	for _, path := range []string{
		userRoomPath(creatorUID, roomID),
		memberPath(roomID, creatorUID),
		roomPath(roomID),
	} {
		if err := s.st.Remove(ctx, path); err != nil {
			logrus.WithError(err).WithField("path", path).Warn("CreateRoom: compensation remove failed")
		}
	}
}

// GetRoomInfo 一次性读取房间记录。密码哈希不对外暴露。
func (s *RoomService) GetRoomInfo(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := s.readRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room.PasswordHash = ""
	return room, nil
}

func (s *RoomService) readRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	raw, err := s.st.Read(ctx, roomPath(roomID))
	if err != nil {
		if errors.Is(err, store.ErrAbsent) {
			return nil, ErrRoomNotFound
		}
		return nil, storeErr("read(room)", err)
	}
	var room domain.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, storeErr("decode(room)", err)
	}
	room.ID = roomID
	return &room, nil
}

// JoinRoom 把用户写入房间成员集。私密房间先校验密码；
// 重复加入是幂等的，后写的 name/avatar 覆盖先前的记录。
func (s *RoomService) JoinRoom(ctx context.Context, roomID, uid, name, avatar, password string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "uid": uid})

	room, err := s.readRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Type == domain.RoomPrivate {
		if err := bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte(password)); err != nil {
			logCtx.Warn("JoinRoom: wrong password")
			return ErrWrongPassword
		}
	}

	_, err = s.st.WriteWithServerTimestamp(ctx, memberPath(roomID, uid), map[string]interface{}{
		"name":     name,
		"avatar":   avatar,
		"role":     string(domain.RoleMember),
		"joinedAt": store.ServerTimestamp,
	})
	if err != nil {
		return storeErr("write(membership)", err)
	}
	if err := s.st.Write(ctx, userRoomPath(uid, roomID), true); err != nil {
		return storeErr("write(userRoomIndex)", err)
	}
	logCtx.Info("User joined room")
	return nil
}

// LeaveRoom 删除成员记录与用户索引。没有任何管理员继任逻辑：
// 唯一的 admin 退出后房间继续存在但没有 admin。
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, uid string) error {
	if err := s.st.Remove(ctx, memberPath(roomID, uid)); err != nil {
		return storeErr("remove(membership)", err)
	}
	if err := s.st.Remove(ctx, userRoomPath(uid, roomID)); err != nil {
		return storeErr("remove(userRoomIndex)", err)
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "uid": uid}).Info("User left room")
	return nil
}

// ListUserRooms 通过 UserRoomIndex 枚举用户的房间并逐个解析。
// 索引与房间记录是最终一致的：索引指向的房间若已不存在则跳过。
func (s *RoomService) ListUserRooms(ctx context.Context, uid string) ([]domain.Room, error) {
	snap, err := s.st.ReadTree(ctx, userRoomsPath(uid))
	if err != nil {
		return nil, storeErr("readTree(userRooms)", err)
	}
	rooms := make([]domain.Room, 0, len(snap))
	for roomID := range snap {
		room, err := s.GetRoomInfo(ctx, roomID)
		if err != nil {
			if errors.Is(err, ErrRoomNotFound) {
				continue
			}
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, nil
}
