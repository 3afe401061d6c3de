package service

import "errors"

// Reject 是业务规则拒绝，Msg 原样回复给客户端，不修改任何状态。
type Reject struct {
	Msg string
}

func (r *Reject) Error() string { return r.Msg }

// 业务拒绝，ws 层通过 errors.As 取出回复文本。
var (
	ErrNotInRoom        = &Reject{"User not in room"}
	ErrRoomNotFound     = &Reject{"Room not found"}
	ErrAlreadyJoined    = &Reject{"Already joined"}
	ErrNotFriends       = &Reject{"participants must be friend"}
	ErrInvalidFriend    = &Reject{"Invalid friend_id"}
	ErrFriendNotFound   = &Reject{"Friend not found"}
	ErrAlreadyFriend    = &Reject{"Already friend"}
	ErrRequestPending   = &Reject{"Already sent friend request"}
	ErrNotFriend        = &Reject{"Not friend"}
	ErrInvalidSearchKey = &Reject{"Invalid search key"}
	ErrInvalidMessage   = &Reject{"Invalid message type"}
)

// 认证错误：握手时映射为关闭码，ReAuth 时映射为回复文本。
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrTokenMismatch  = errors.New("access token mismatch")
	ErrTokenUnknown   = errors.New("access token not found")
	ErrTokenExpired   = errors.New("access token expired")
	ErrDeviceMismatch = errors.New("device id mismatch")
)

// REST 协作接口的错误，handler 根据类型映射到 HTTP 状态码。
var (
	ErrEmailTaken          = errors.New("email taken")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)
