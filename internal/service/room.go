package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/maguro923/chat-and-schedule-backend/internal/models"
	"github.com/maguro923/chat-and-schedule-backend/internal/protocol"
	"github.com/maguro923/chat-and-schedule-backend/internal/store"
	"github.com/rs/zerolog/log"
)

// RoomService 封装房间生命周期与房间查询。
type RoomService struct {
	d Deps
}

func NewRoomService(d Deps) *RoomService {
	return &RoomService{d: d}
}

// Create 创建房间。每个受邀者都必须已经是请求者的好友，逐个检查，
// 遇到第一个非好友即放弃，不写任何行。
func (s *RoomService) Create(ctx context.Context, owner uuid.UUID, name string, invitees []uuid.UUID) (uuid.UUID, error) {
	members := []uuid.UUID{owner}
	seen := map[uuid.UUID]bool{owner: true}
	for _, id := range invitees {
		if seen[id] {
			continue
		}
		ok, err := s.d.Store.IsFriend(ctx, owner, id)
		if err != nil {
			return uuid.Nil, fmt.Errorf("check friendship: %w", err)
		}
		if !ok {
			return uuid.Nil, ErrNotFriends
		}
		seen[id] = true
		members = append(members, id)
	}

	now := s.d.now()
	room := models.Room{ID: uuid.New(), Name: name, CreatedAt: now}
	err := s.d.Store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateRoom(ctx, &room); err != nil {
			return err
		}
		for _, id := range members {
			p := models.RoomParticipant{RoomID: room.ID, UserID: id, JoinedAt: now, LastViewedAt: now}
			if err := tx.AddParticipant(ctx, &p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create room: %w", err)
	}

	ev := protocol.JoinRoomEvent{RoomID: room.ID.String(), RoomName: room.Name, Participants: idStrings(members)}
	s.d.broadcast(members, owner, protocol.Push(protocol.TypeJoinRoom, ev))
	s.d.subscribe(members, room.ID)
	return room.ID, nil
}

// Join 把 participant 加入房间并写入一条系统消息。participant 不是请求者
// 本人时，请求者必须在房间内且与对方是好友。
func (s *RoomService) Join(ctx context.Context, requester, roomID, participant uuid.UUID) error {
	room, err := s.d.Store.Room(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return err
	}
	if participant != requester {
		if _, err := s.d.Store.Participant(ctx, roomID, requester); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotInRoom
			}
			return err
		}
		ok, err := s.d.Store.IsFriend(ctx, requester, participant)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFriends
		}
	}
	_, err = s.d.Store.Participant(ctx, roomID, participant)
	if err == nil {
		return ErrAlreadyJoined
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	joiner, err := s.d.Store.UserByID(ctx, participant)
	if errors.Is(err, store.ErrNotFound) {
		return ErrFriendNotFound
	}
	if err != nil {
		return err
	}

	now := s.d.now()
	sys := models.Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		Type:      models.MessageSystem,
		Content:   joiner.Name + " joined",
		CreatedAt: now,
	}
	err = s.d.Store.Transaction(ctx, func(tx *store.Store) error {
		p := models.RoomParticipant{RoomID: roomID, UserID: participant, JoinedAt: now, LastViewedAt: now}
		if err := tx.AddParticipant(ctx, &p); err != nil {
			return err
		}
		return tx.CreateMessage(ctx, &sys)
	})
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	s.d.subscribe([]uuid.UUID{participant}, roomID)
	ps, err := s.d.Store.Participants(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("load participants for join fan-out")
		return nil
	}
	ids := userIDs(ps)
	s.d.broadcast(ids, participant, protocol.Push(protocol.TypeReceiveMessage, receiveContent(&sys)))
	// 自己加入时回复已足够，只有被邀请者才收到 JoinRoom
	if participant != requester {
		ev := protocol.JoinRoomEvent{RoomID: roomID.String(), RoomName: room.Name, Participants: idStrings(ids)}
		s.d.Hub.SendTo(participant.String(), protocol.Push(protocol.TypeJoinRoom, ev))
	}
	return nil
}

// LeaveResult 区分普通退出与最后一人退出导致的删除。
type LeaveResult int

const (
	RoomLeft LeaveResult = iota
	RoomDeleted
)

// Leave 删除请求者的参与记录；最后一人离开时级联删除房间、消息和头像。
func (s *RoomService) Leave(ctx context.Context, userID, roomID uuid.UUID) (LeaveResult, error) {
	if _, err := s.d.Store.Room(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RoomLeft, ErrRoomNotFound
		}
		return RoomLeft, err
	}
	u, err := s.d.Store.UserByID(ctx, userID)
	if err != nil {
		return RoomLeft, err
	}

	result := RoomLeft
	var sys *models.Message
	err = s.d.Store.Transaction(ctx, func(tx *store.Store) error {
		// 锁住房间行，并发退出时“最后一人”的判断串行化
		if _, err := tx.LockRoom(ctx, roomID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		if err := tx.RemoveParticipant(ctx, roomID, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotInRoom
			}
			return err
		}
		rest, err := tx.Participants(ctx, roomID)
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			result = RoomDeleted
			return tx.DeleteRoom(ctx, roomID)
		}
		sys = &models.Message{
			ID:        uuid.New(),
			RoomID:    roomID,
			Type:      models.MessageSystem,
			Content:   u.Name + " left",
			CreatedAt: s.d.now(),
		}
		return tx.CreateMessage(ctx, sys)
	})
	if err != nil {
		if errors.Is(err, ErrNotInRoom) || errors.Is(err, ErrRoomNotFound) {
			return RoomLeft, err
		}
		return RoomLeft, fmt.Errorf("leave room: %w", err)
	}

	s.d.Hub.SwapFocus(userID.String(), roomID.String(), "")
	s.d.unsubscribe([]uuid.UUID{userID}, roomID)
	if result == RoomDeleted {
		s.d.effect("remove room avatar", func(ctx context.Context) error {
			return s.d.Avatars.RemoveRoom(ctx, roomID)
		})
		return RoomDeleted, nil
	}
	ps, err := s.d.Store.Participants(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("load participants for leave fan-out")
		return RoomLeft, nil
	}
	s.d.broadcast(userIDs(ps), userID, protocol.Push(protocol.TypeReceiveMessage, receiveContent(sys)))
	return RoomLeft, nil
}

// RoomsInfo 返回用户所在的房间及各房间的参与者。
func (s *RoomService) RoomsInfo(ctx context.Context, userID uuid.UUID) (*protocol.RoomsInfo, error) {
	ms, err := s.d.Store.Memberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	joined := make(map[uuid.UUID]models.RoomParticipant, len(ms))
	ids := make([]uuid.UUID, 0, len(ms))
	for _, m := range ms {
		joined[m.RoomID] = m
		ids = append(ids, m.RoomID)
	}
	rooms, err := s.d.Store.RoomsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	ps, err := s.d.Store.ParticipantsOfRooms(ctx, ids)
	if err != nil {
		return nil, err
	}

	info := &protocol.RoomsInfo{
		RoomList:     make([]protocol.RoomInfo, 0, len(rooms)),
		Participants: make(map[string][]string, len(rooms)),
	}
	byID := make(map[uuid.UUID]models.Room, len(rooms))
	for _, r := range rooms {
		byID[r.ID] = r
	}
	// memberships are ordered by joined_at
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			continue
		}
		info.RoomList = append(info.RoomList, protocol.RoomInfo{
			ID:         r.ID.String(),
			Name:       r.Name,
			AvatarPath: r.AvatarPath,
			JoinedAt:   timestamp(joined[id].JoinedAt),
		})
		info.Participants[r.ID.String()] = []string{}
	}
	for _, p := range ps {
		key := p.RoomID.String()
		info.Participants[key] = append(info.Participants[key], p.UserID.String())
	}
	return info, nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
