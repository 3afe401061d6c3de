package ws

import (
	"context"

	"github.com/maguro923/chat-and-schedule-backend/internal/protocol"
	"github.com/rs/zerolog/log"
)

// deliverUnread 在认证后执行一次：先补发未读消息，再补发待处理的好友请求。
// 空批次不发送。
func (s *Server) deliverUnread(ctx context.Context, sess *session) {
	msgs, err := s.svc.Messages.Unread(ctx, sess.userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", sess.key).Msg("load unread messages")
		sess.send(protocol.Push(protocol.TypeLatestMessage, protocol.Message{Message: "Error fetching message data"}))
		return
	}
	if len(msgs) > 0 {
		sess.send(protocol.Push(protocol.TypeLatestMessage, msgs))
	}
	if pending := s.svc.Friends.Pending(sess.userID); len(pending) > 0 {
		sess.send(protocol.Push(protocol.TypeLatestFriendRequest, pending))
	}
}
