// Package protocol 定义聊天 WebSocket 上收发的 JSON 帧。
package protocol

import "encoding/json"

// 客户端请求类型
const (
	TypeReAuth        = "ReAuth"
	TypeSendMessage   = "SendMessage"
	TypeCreateRoom    = "CreateRoom"
	TypeJoinRoom      = "JoinRoom"
	TypeLeaveRoom     = "LeaveRoom"
	TypeFriend        = "Friend"
	TypeUnFriend      = "UnFriend"
	TypeFocus         = "Focus"
	TypeUnFocus       = "UnFocus"
	TypeGetRoomsInfo  = "GetRoomsInfo"
	TypeSearchUsers   = "SearchUsers"
	TypeGetFriendList = "GetFriendList"
)

// 服务端推送类型
const (
	TypeReplyInit           = "reply-init"
	TypeAuthInfo            = "AuthInfo"
	TypeReceiveMessage      = "ReceiveMessage"
	TypeFriendRequest       = "FriendRequest"
	TypeLatestMessage       = "Latest-Message"
	TypeLatestFriendRequest = "Latest-FriendRequest"
	TypeError               = "Error"
)

// Frame 是认证后所有消息的外层结构。ID 由客户端生成并在回复中原样返回，
// 主动推送时为空。
type Frame struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Type    string          `json:"type"`
	Content any             `json:"content"`
}

// Reply 为请求构造 reply-<type> 帧。
func Reply(id json.RawMessage, msgType string, content any) Frame {
	return Frame{ID: id, Type: "reply-" + msgType, Content: content}
}

// Push 构造服务端主动推送的帧。
func Push(msgType string, content any) Frame {
	return Frame{Type: msgType, Content: content}
}

// Message 是通用的 {message: ...} 内容。
type Message struct {
	Message string `json:"message"`
}

// InitContent 是客户端第一帧的内容。
type InitContent struct {
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

// ReceiveMessage 推送给在线的房间成员。按 Type 只设置 Text、Image、Message 之一。
type ReceiveMessage struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomid"`
	SenderID  string `json:"senderid,omitempty"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Image     string `json:"image,omitempty"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"created_at"`
}

// JoinRoomEvent 通知用户已被加入房间。
type JoinRoomEvent struct {
	RoomID       string   `json:"roomid"`
	RoomName     string   `json:"roomname"`
	Participants []string `json:"participants"`
}

// FriendRequestEvent 通知好友请求；设置 Message 时表示请求已被接受。
type FriendRequestEvent struct {
	FriendID string `json:"friend_id"`
	Message  string `json:"message,omitempty"`
}

// StoredMessage 是 Latest-Message 批次中的一条。
type StoredMessage struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	SenderID  string `json:"sender_id,omitempty"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// UserInfo 是用户的公开信息。
type UserInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AvatarPath string `json:"avatar_path"`
}

type RoomInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AvatarPath string `json:"avatar_path"`
	JoinedAt   string `json:"joined_at"`
}

type RoomsInfo struct {
	RoomList     []RoomInfo          `json:"roomlist"`
	Participants map[string][]string `json:"participants"`
}
