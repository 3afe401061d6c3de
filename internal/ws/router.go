package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maguro923/chat-and-schedule-backend/internal/metrics"
	"github.com/maguro923/chat-and-schedule-backend/internal/protocol"
	"github.com/maguro923/chat-and-schedule-backend/internal/service"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// handlerFunc 返回一个请求的回复内容。
type handlerFunc func(ctx context.Context, sess *session, content json.RawMessage) (any, error)

func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.TypeReAuth:        s.reAuth,
		protocol.TypeSendMessage:   s.sendMessage,
		protocol.TypeCreateRoom:    s.createRoom,
		protocol.TypeJoinRoom:      s.joinRoom,
		protocol.TypeLeaveRoom:     s.leaveRoom,
		protocol.TypeFriend:        s.friend,
		protocol.TypeUnFriend:      s.unFriend,
		protocol.TypeFocus:         s.focus,
		protocol.TypeUnFocus:       s.unFocus,
		protocol.TypeGetRoomsInfo:  s.getRoomsInfo,
		protocol.TypeSearchUsers:   s.searchUsers,
		protocol.TypeGetFriendList: s.getFriendList,
	}
}

// storageErrors 是处理失败且不属于业务拒绝时的回复文本。
var storageErrors = map[string]string{
	protocol.TypeReAuth:        "Error fetching user data",
	protocol.TypeSendMessage:   "Error saving message",
	protocol.TypeCreateRoom:    "Error creating room",
	protocol.TypeJoinRoom:      "Error joining room",
	protocol.TypeLeaveRoom:     "Error leaving room",
	protocol.TypeFriend:        "Error making friend",
	protocol.TypeUnFriend:      "Error unfriending",
	protocol.TypeFocus:         "Error fetching room data",
	protocol.TypeUnFocus:       "Error fetching room data",
	protocol.TypeGetRoomsInfo:  "Error fetching room data",
	protocol.TypeSearchUsers:   "Error fetching user data",
	protocol.TypeGetFriendList: "Error fetching friend data",
}

var errInvalidContent = errors.New("invalid content")

// receive 是读循环。协议错误直接回复后继续，只有读失败才会结束循环。
func (s *Server) receive(ctx context.Context, g *errgroup.Group, sess *session) error {
	handlers := s.handlers()
	for {
		data, err := sess.client.read()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := sess.limiter.Wait(ctx); err != nil {
			return err
		}

		var env map[string]json.RawMessage
		if err := json.Unmarshal(data, &env); err != nil || env == nil {
			sess.send(protocol.Push(protocol.TypeError, protocol.Message{Message: "Invalid message format"}))
			continue
		}
		var msgType string
		if raw, ok := env["type"]; ok {
			_ = json.Unmarshal(raw, &msgType)
		}
		id, hasID := env["id"]
		_, hasContent := env["content"]
		if !hasID || !hasContent || msgType == "" {
			if msgType == "" {
				sess.send(protocol.Push(protocol.TypeError, protocol.Message{Message: "Invalid json key"}))
			} else {
				sess.send(protocol.Reply(id, msgType, protocol.Message{Message: "Invalid json key"}))
			}
			continue
		}

		h, ok := handlers[msgType]
		if !ok {
			metrics.WsFramesTotal.WithLabelValues("unknown").Inc()
			sess.send(protocol.Reply(id, msgType, protocol.Message{Message: "Invalid message type"}))
			continue
		}
		metrics.WsFramesTotal.WithLabelValues(msgType).Inc()

		if err := sess.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		content := env["content"]
		g.Go(func() error {
			defer sess.sem.Release(1)
			s.dispatch(ctx, sess, id, msgType, content, h)
			return nil
		})
	}
}

// dispatch 在 recover 保护下运行一个 handler。handler 的 context 不随连接取消，
// 已提交的写入仍会完成推送。
func (s *Server) dispatch(ctx context.Context, sess *session, id json.RawMessage, msgType string, content json.RawMessage, h handlerFunc) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.HandlerTimeout)
	defer cancel()
	start := time.Now()

	var (
		reply any
		err   error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		reply, err = h(hctx, sess, content)
	}()
	metrics.ObserveHandler(msgType, start, err)

	if err != nil {
		reply = s.replyError(sess, msgType, err)
	}
	sess.send(protocol.Reply(id, msgType, reply))
}

func (s *Server) replyError(sess *session, msgType string, err error) protocol.Message {
	var rej *service.Reject
	switch {
	case errors.As(err, &rej):
		return protocol.Message{Message: rej.Msg}
	case errors.Is(err, errInvalidContent):
		return protocol.Message{Message: "Invalid message format"}
	case errors.Is(err, service.ErrTokenMismatch), errors.Is(err, service.ErrTokenUnknown):
		return protocol.Message{Message: "access_token not found"}
	case errors.Is(err, service.ErrTokenExpired):
		return protocol.Message{Message: "access_token expired"}
	case errors.Is(err, service.ErrDeviceMismatch):
		return protocol.Message{Message: "Invalid device_id"}
	}
	log.Error().Err(err).Str("user_id", sess.key).Str("type", msgType).Msg("handler failed")
	return protocol.Message{Message: storageErrors[msgType]}
}
