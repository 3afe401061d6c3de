package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/maguro923/chat-and-schedule-backend/internal/store"
)

// FocusResult 是 Focus/UnFocus 的结果，Already* 表示没有任何修改。
type FocusResult int

const (
	Focused FocusResult = iota
	AlreadyFocused
	Unfocused
	AlreadyUnfocused
)

func (r FocusResult) String() string {
	switch r {
	case Focused:
		return "Focused"
	case AlreadyFocused:
		return "Already focused"
	case Unfocused:
		return "Unfocused"
	default:
		return "Already unfocused"
	}
}

// requireMember 确认房间存在且 userID 是参与者。
func (s *RoomService) requireMember(ctx context.Context, userID, roomID uuid.UUID) error {
	if _, err := s.d.Store.Room(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return err
	}
	if _, err := s.d.Store.Participant(ctx, roomID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotInRoom
		}
		return err
	}
	return nil
}

// stamp 在事务中记录 last_viewed_at；参与记录已不存在时视为成功。
func (s *RoomService) stamp(ctx context.Context, userID uuid.UUID, roomID string) error {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return nil
	}
	err = s.d.Store.Transaction(ctx, func(tx *store.Store) error {
		return tx.TouchLastViewed(ctx, id, userID, s.d.now())
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("stamp last viewed: %w", err)
	}
	return nil
}

// Focus 把焦点移到 roomID。之前聚焦的房间先记录已读时间，成功后才移动指针。
// 指针以比较并交换的方式移动，期间被并发修改则重新读取。
func (s *RoomService) Focus(ctx context.Context, userID, roomID uuid.UUID) (FocusResult, error) {
	if err := s.requireMember(ctx, userID, roomID); err != nil {
		return Focused, err
	}
	key, target := userID.String(), roomID.String()
	for {
		prev := s.d.Hub.Focused(key)
		if prev == target {
			return AlreadyFocused, nil
		}
		if prev != "" {
			if err := s.stamp(ctx, userID, prev); err != nil {
				return Focused, err
			}
		}
		if s.d.Hub.SwapFocus(key, prev, target) {
			return Focused, nil
		}
		if !s.d.Hub.Online(key) {
			return Focused, nil
		}
		if err := ctx.Err(); err != nil {
			return Focused, err
		}
	}
}

// UnFocus 记录当前聚焦房间的已读时间并清空焦点。
func (s *RoomService) UnFocus(ctx context.Context, userID, roomID uuid.UUID) (FocusResult, error) {
	if err := s.requireMember(ctx, userID, roomID); err != nil {
		return Unfocused, err
	}
	key := userID.String()
	for {
		prev := s.d.Hub.Focused(key)
		if prev == "" {
			return AlreadyUnfocused, nil
		}
		if err := s.stamp(ctx, userID, prev); err != nil {
			return Unfocused, err
		}
		if s.d.Hub.SwapFocus(key, prev, "") {
			return Unfocused, nil
		}
		if err := ctx.Err(); err != nil {
			return Unfocused, err
		}
	}
}
