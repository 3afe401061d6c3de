package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/maguro923/chat-and-schedule-backend/internal/protocol"
	"github.com/maguro923/chat-and-schedule-backend/internal/service"
)

// decode 把 content 解析到 dst，并用 gin 的 validator 校验 binding 标签。
func decode(content json.RawMessage, dst any) error {
	if err := json.Unmarshal(content, dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidContent, err)
	}
	if err := binding.Validator.ValidateStruct(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidContent, err)
	}
	return nil
}

func ok(msg string) protocol.Message { return protocol.Message{Message: msg} }

type reAuthContent struct {
	AccessToken string `json:"access_token" binding:"required"`
	DeviceID    string `json:"device_id" binding:"required"`
}

func (s *Server) reAuth(ctx context.Context, sess *session, content json.RawMessage) (any, error) {
	var in reAuthContent
	if err := decode(content, &in); err != nil {
		return nil, err
	}
	lease, err := s.svc.Users.ReAuth(ctx, sess.userID, in.AccessToken, in.DeviceID)
	if err != nil {
		return nil, err
	}
	sess.setValidity(lease.Validity)
	return ok("ReAuth success"), nil
}

type sendMessageContent struct {
	RoomID  string `json:"roomid" binding:"required,uuid"`
	Type    string `json:"type" binding:"required,oneof=text image"`
	Message string `json:"message" binding:"required_if=Type text"`
	Image   string `json:"image" binding:"required_if=Type image"`
}

func (s *Server) sendMessage(ctx context.Context, sess *session, content json.RawMessage) (any, error) {
	var in sendMessageContent
	if err := decode(content, &in); err != nil {
		return nil, err
	}
	body := in.Message
	if in.Type == "image" {
		body = in.Image
	}
	if _, err := s.svc.Messages.Send(ctx, sess.userID, uuid.MustParse(in.RoomID), in.Type, body); err != nil {
		return nil, err
	}
	return ok("Message sent"), nil
}

type createRoomContent struct {
	RoomName     string   `json:"roomname" binding:"required"`
	Participants []string `json:"participants" binding:"required,dive,uuid"`
}

func (s *Server) createRoom(ctx context.Context, sess *session, content json.RawMessage) (any, error) {
	var in createRoomContent
	if err := decode(content, &in); err != nil {
		return nil, err
	}
	invitees := make([]uuid.UUID, 0, len(in.Participants))
	for _, p := range in.Participants {
		invitees = append(invitees, uuid.MustParse(p))
	}
	id, err := s.svc.Rooms.Create(ctx, sess.userID, in.RoomName, invitees)
	if err != nil {
		return nil, err
	}
	return map[string]string{"message": "Room created", "room_id": id.String()}, nil
}

type joinRoomContent struct {
	RoomID      string `json:"roomid" binding:"required,uuid"`
	Participant string `json:"participant" binding:"omitempty,uuid"`
}

func (s *Server) joinRoom(ctx context.Context, sess *session, content json.RawMessage) (any, error) {
	var in joinRoomContent
	if err := decode(content, &in); err != nil {
		return nil, err
	}
	participant := sess.userID
	if in.Participant != "" {
		participant = uuid.MustParse(in.Participant)
	}
	if err := s.svc.Rooms.Join(ctx, sess.userID, uuid.MustParse(in.RoomID), participant); err != nil {
		return nil, err
	}
	return ok("Room joined"), nil
}

type roomContent struct {
	RoomID string `json:"roomid" binding:"required,uuid"`
}

func (s *Server) leaveRoom(ctx context.Context, sess *session, content json.RawMessage) (any, error) {
	var in roomContent
	if err := decode(content, &in); err != nil {
		return nil, err
	}
	res, err := s.svc.Rooms.Leave(ctx, sess.userID, uuid.MustParse(in.RoomID))
	if err != nil {
		return nil, err
	}
	if res == service.RoomDeleted {
		return ok("Room deleted"), nil
	}
	return ok("Room left"), nil
}

type friendContent struct {
	FriendID string `json:"friend_id" binding:"required"`
}

// friendTarget 解析 friend_id，格式错误按业务拒绝处理。
func friendTarget(content json.RawMessage) (uuid.UUID, error) {
	var in friendContent
	if err := decode(content, &in); err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(in.FriendID)
	if err != nil {
		return uuid.Nil, service.ErrInvalidFriend
	}
	return id, nil
}

func (s *Server) friend(ctx context.Context, sess *session, content json.RawMessage) (any, error) {
	id, err := friendTarget(content)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Friends.Request(ctx, sess.userID, id)
	if err != nil {
		return nil, err
	}
	if res == service.FriendMade {
		return ok("Friend is made"), nil
	}
	return ok("Friend request sent"), nil
}

func (s *Server) unFriend(ctx context.Context, sess *session, content json.RawMessage) (any, error) {
	id, err := friendTarget(content)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Friends.Remove(ctx, sess.userID, id); err != nil {
		return nil, err
	}
	return ok("Friend is removed"), nil
}

func (s *Server) focus(ctx context.Context, sess *session, content json.RawMessage) (any, error) {
	var in roomContent
	if err := decode(content, &in); err != nil {
		return nil, err
	}
	res, err := s.svc.Rooms.Focus(ctx, sess.userID, uuid.MustParse(in.RoomID))
	if err != nil {
		return nil, err
	}
	return ok(res.String()), nil
}

func (s *Server) unFocus(ctx context.Context, sess *session, content json.RawMessage) (any, error) {
	var in roomContent
	if err := decode(content, &in); err != nil {
		return nil, err
	}
	res, err := s.svc.Rooms.UnFocus(ctx, sess.userID, uuid.MustParse(in.RoomID))
	if err != nil {
		return nil, err
	}
	return ok(res.String()), nil
}

func (s *Server) getRoomsInfo(ctx context.Context, sess *session, _ json.RawMessage) (any, error) {
	return s.svc.Rooms.RoomsInfo(ctx, sess.userID)
}

type searchContent struct {
	Key string `json:"key"`
}

func (s *Server) searchUsers(ctx context.Context, sess *session, content json.RawMessage) (any, error) {
	var in searchContent
	if err := decode(content, &in); err != nil {
		return nil, err
	}
	return s.svc.Users.SearchUsers(ctx, sess.userID, in.Key)
}

func (s *Server) getFriendList(ctx context.Context, sess *session, _ json.RawMessage) (any, error) {
	friends, err := s.svc.Friends.List(ctx, sess.userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"friends": friends}, nil
}
