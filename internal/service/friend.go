package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/maguro923/chat-and-schedule-backend/internal/hub"
	"github.com/maguro923/chat-and-schedule-backend/internal/protocol"
	"github.com/maguro923/chat-and-schedule-backend/internal/store"
)

// FriendService 封装好友申请、解除与好友列表。
type FriendService struct {
	d Deps
}

func NewFriendService(d Deps) *FriendService {
	return &FriendService{d: d}
}

// FriendResult 区分"申请已发出"与"双向申请已配对成好友"。
type FriendResult int

const (
	RequestSent FriendResult = iota
	FriendMade
)

// target 校验好友操作的对象：不能是自己，且必须存在。
func (s *FriendService) target(ctx context.Context, userID, friendID uuid.UUID) error {
	if userID == friendID {
		return ErrInvalidFriend
	}
	if _, err := s.d.Store.UserByID(ctx, friendID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrFriendNotFound
		}
		return err
	}
	return nil
}

// Request 发出好友申请。对方已有指向请求者的待处理申请时，直接在事务中
// 写入对称的好友关系。待处理申请只保存在内存中。
func (s *FriendService) Request(ctx context.Context, userID, friendID uuid.UUID) (FriendResult, error) {
	if err := s.target(ctx, userID, friendID); err != nil {
		return RequestSent, err
	}
	ok, err := s.d.Store.IsFriend(ctx, userID, friendID)
	if err != nil {
		return RequestSent, err
	}
	if ok {
		return RequestSent, ErrAlreadyFriend
	}

	from, to := userID.String(), friendID.String()
	switch s.d.Hub.OfferFriendRequest(from, to) {
	case hub.OfferDuplicate:
		return RequestSent, ErrRequestPending
	case hub.OfferMatched:
		err := s.d.Store.Transaction(ctx, func(tx *store.Store) error {
			return tx.AddFriendship(ctx, userID, friendID)
		})
		if err != nil {
			s.d.Hub.RestoreFriendRequest(to, from)
			return RequestSent, fmt.Errorf("add friendship: %w", err)
		}
		s.d.Hub.SendTo(to, protocol.Push(protocol.TypeFriendRequest,
			protocol.FriendRequestEvent{FriendID: from, Message: "Friend is made"}))
		return FriendMade, nil
	default:
		s.d.Hub.SendTo(to, protocol.Push(protocol.TypeFriendRequest, protocol.FriendRequestEvent{FriendID: from}))
		return RequestSent, nil
	}
}

// Remove 在事务中删除双向好友关系。
func (s *FriendService) Remove(ctx context.Context, userID, friendID uuid.UUID) error {
	if err := s.target(ctx, userID, friendID); err != nil {
		return err
	}
	ok, err := s.d.Store.IsFriend(ctx, userID, friendID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFriend
	}
	err = s.d.Store.Transaction(ctx, func(tx *store.Store) error {
		return tx.RemoveFriendship(ctx, userID, friendID)
	})
	if err != nil {
		return fmt.Errorf("remove friendship: %w", err)
	}
	return nil
}

func (s *FriendService) List(ctx context.Context, userID uuid.UUID) ([]protocol.UserInfo, error) {
	ids, err := s.d.Store.FriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	users, err := s.d.Store.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.UserInfo, 0, len(users))
	for _, u := range users {
		out = append(out, userInfo(u))
	}
	return out, nil
}

// Pending 返回等待 userID 处理的申请者 id。
func (s *FriendService) Pending(userID uuid.UUID) []string {
	return s.d.Hub.PendingFriendRequests(userID.String())
}
