package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/maguro923/chat-and-schedule-backend/internal/models"
	"github.com/maguro923/chat-and-schedule-backend/internal/protocol"
	"github.com/maguro923/chat-and-schedule-backend/internal/push"
	"github.com/maguro923/chat-and-schedule-backend/internal/store"
	"github.com/rs/zerolog/log"
)

// MessageService 封装消息的发送与未读补发。
type MessageService struct {
	d Deps
}

func NewMessageService(d Deps) *MessageService {
	return &MessageService{d: d}
}

// Send 持久化一条消息，随后尽力推送给在线参与者，并向房间 topic 发送通知。
// 成功只表示已落库，不保证对端收到。
func (s *MessageService) Send(ctx context.Context, sender, roomID uuid.UUID, msgType, content string) (*models.Message, error) {
	if msgType != models.MessageText && msgType != models.MessageImage {
		return nil, ErrInvalidMessage
	}
	_, err := s.d.Store.Participant(ctx, roomID, sender)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInRoom
	}
	if err != nil {
		return nil, err
	}

	msg := models.Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		SenderID:  &sender,
		Type:      msgType,
		Content:   content,
		CreatedAt: s.d.now(),
	}
	err = s.d.Store.Transaction(ctx, func(tx *store.Store) error {
		return tx.CreateMessage(ctx, &msg)
	})
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	ps, err := s.d.Store.Participants(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("load participants for fan-out")
	} else {
		s.d.broadcast(userIDs(ps), sender, protocol.Push(protocol.TypeReceiveMessage, receiveContent(&msg)))
	}

	body := content
	if msgType == models.MessageImage {
		body = "Sent a photo"
	}
	s.d.effect("push message", func(ctx context.Context) error {
		return s.d.Push.Send(ctx, roomID.String(), push.Notification{Title: "New message", Body: body})
	})
	return &msg, nil
}

// Unread 返回用户每个房间中 last_viewed_at 之后的消息，按房间、时间排序。
func (s *MessageService) Unread(ctx context.Context, userID uuid.UUID) ([]protocol.StoredMessage, error) {
	ms, err := s.d.Store.Memberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := []protocol.StoredMessage{}
	for _, p := range ms {
		msgs, err := s.d.Store.MessagesAfter(ctx, p.RoomID, p.LastViewedAt)
		if err != nil {
			return nil, fmt.Errorf("unread messages of room %s: %w", p.RoomID, err)
		}
		for _, m := range msgs {
			out = append(out, storedMessage(m))
		}
	}
	return out, nil
}
