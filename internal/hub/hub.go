// Package hub 是进程内的在线会话注册表：每个用户一个连接，
// 同时保存租约起点、当前焦点房间和待处理的好友请求。
package hub

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/maguro923/chat-and-schedule-backend/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Conn 是一个在线连接的写端。
type Conn interface {
	Send(frame []byte) error
	Close() error
}

type session struct {
	conn       Conn
	leaseStart time.Time
	focus      string
}

// FriendOffer 是记录单向好友请求的结果。
type FriendOffer int

const (
	// OfferRecorded 请求已挂起，等待对方处理。
	OfferRecorded FriendOffer = iota
	// OfferMatched 对方已先发出请求，反向请求已被消费。
	OfferMatched
	// OfferDuplicate 相同请求已在等待中。
	OfferDuplicate
)

// Hub 用一把互斥锁保护所有临时状态。持锁期间不做数据库或网络 I/O，Conn.Send 只入队。
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*session
	pending  map[string]map[string]struct{}
	now      func() time.Time
}

func New() *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		pending:  make(map[string]map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register 把 conn 绑定到 userID。同一用户的旧连接会被踢下线，
// 其焦点和租约状态一并清除并关闭。
func (h *Hub) Register(userID string, conn Conn) {
	h.mu.Lock()
	prev := h.sessions[userID]
	h.sessions[userID] = &session{conn: conn}
	n := len(h.sessions)
	h.mu.Unlock()

	metrics.WsConnections.Set(float64(n))
	if prev != nil && prev.conn != conn {
		log.Info().Str("user_id", userID).Msg("session replaced by newer connection")
		_ = prev.conn.Close()
	}
}

// MarkAuthenticated 把当前时间记为租约起点，用户不在线时返回 false。
func (h *Hub) MarkAuthenticated(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[userID]
	if !ok {
		return false
	}
	s.leaseStart = h.now()
	return true
}

// LeaseStart 返回最近一次认证成功的时间。
func (h *Hub) LeaseStart(userID string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[userID]
	if !ok {
		return time.Time{}, false
	}
	return s.leaseStart, true
}

// Unregister 在会话仍绑定 conn 时移除它，然后关闭 conn。重复关闭无副作用。
func (h *Hub) Unregister(userID string, conn Conn) {
	h.mu.Lock()
	if s, ok := h.sessions[userID]; ok && s.conn == conn {
		delete(h.sessions, userID)
	}
	n := len(h.sessions)
	h.mu.Unlock()

	metrics.WsConnections.Set(float64(n))
	_ = conn.Close()
}

func (h *Hub) Lookup(userID string) (Conn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[userID]
	if !ok {
		return nil, false
	}
	return s.conn, true
}

func (h *Hub) Online(userID string) bool {
	_, ok := h.Lookup(userID)
	return ok
}

// Count 返回在线会话数。
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// SendTo 向用户连接写一帧 JSON。离线用户直接忽略，写失败记录日志并视为离线。
func (h *Hub) SendTo(userID string, frame any) bool {
	b, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("encode frame")
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[userID]
	if !ok {
		return false
	}
	if err := s.conn.Send(b); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("deliver frame")
		metrics.FanoutTotal.WithLabelValues("failed").Inc()
		return false
	}
	metrics.FanoutTotal.WithLabelValues("delivered").Inc()
	return true
}

// Focused 返回用户正在查看的房间，没有则为 ""。
func (h *Hub) Focused(userID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[userID]; ok {
		return s.focus
	}
	return ""
}

// SetFocus 设置用户焦点，"" 表示清除。用户不在线时返回 false。
func (h *Hub) SetFocus(userID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[userID]
	if !ok {
		return false
	}
	s.focus = roomID
	return true
}

// SwapFocus 仅当当前焦点等于 expect 时把焦点改为 next，返回是否修改成功。
// 同一用户并发的 Focus/UnFocus 依靠它保证只有一个生效。
func (h *Hub) SwapFocus(userID, expect, next string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[userID]
	if !ok || s.focus != expect {
		return false
	}
	s.focus = next
	return true
}

// OfferFriendRequest 记录 from 向 to 发出的好友请求。若 to 已向 from 发出请求，
// 则消费该请求并返回 OfferMatched，由调用方写入好友关系。
func (h *Hub) OfferFriendRequest(from, to string) FriendOffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.pending[from]; ok {
		if _, asked := set[to]; asked {
			delete(set, to)
			if len(set) == 0 {
				delete(h.pending, from)
			}
			return OfferMatched
		}
	}
	set, ok := h.pending[to]
	if !ok {
		set = make(map[string]struct{})
		h.pending[to] = set
	}
	if _, dup := set[from]; dup {
		return OfferDuplicate
	}
	set[from] = struct{}{}
	return OfferRecorded
}

// RestoreFriendRequest 在好友关系写入失败时放回被消费的请求。
func (h *Hub) RestoreFriendRequest(from, to string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.pending[to]
	if !ok {
		set = make(map[string]struct{})
		h.pending[to] = set
	}
	set[from] = struct{}{}
}

// PendingFriendRequests 按顺序列出等待 userID 处理的请求者。
func (h *Hub) PendingFriendRequests(userID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.pending[userID]
	out := make([]string, 0, len(set))
	for from := range set {
		out = append(out, from)
	}
	sort.Strings(out)
	return out
}
