// Package ws 提供认证后的聊天 WebSocket：握手、租约计时、接收循环以及每帧的处理任务。
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/maguro923/chat-and-schedule-backend/internal/hub"
	"github.com/maguro923/chat-and-schedule-backend/internal/protocol"
	"github.com/maguro923/chat-and-schedule-backend/internal/service"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// 握手被拒绝时使用的关闭码。
const (
	CloseBadRequest   = 4400
	CloseUnauthorized = 4401
	CloseForbidden    = 4403
	CloseNotFound     = 4404
	CloseInternal     = 4500
)

var (
	errInvalidUserID = errors.New("invalid user_id format")
	errBadInit       = errors.New("invalid init frame")
	errLeaseExpired  = errors.New("access token expired")
	errReplaced      = errors.New("session replaced")
)

type Services struct {
	Users    *service.UserService
	Messages *service.MessageService
	Rooms    *service.RoomService
	Friends  *service.FriendService
}

type Options struct {
	// WarnLead 是租约到期前多久发送 AuthInfo。
	WarnLead           time.Duration
	HandlerConcurrency int
	HandlerTimeout     time.Duration
	FrameRate          float64
	FrameBurst         int
}

type Server struct {
	hub      *hub.Hub
	svc      Services
	opts     Options
	upgrader websocket.Upgrader
}

func NewServer(h *hub.Hub, svc Services, opts Options) *Server {
	if opts.HandlerConcurrency <= 0 {
		opts.HandlerConcurrency = 16
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 30 * time.Second
	}
	if opts.WarnLead <= 0 {
		opts.WarnLead = 10 * time.Minute
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 20
	}
	if opts.FrameBurst <= 0 {
		opts.FrameBurst = 40
	}
	return &Server{
		hub:  h,
		svc:  svc,
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// session 是 hub 之外的单连接状态。
type session struct {
	userID   uuid.UUID
	key      string
	client   *Client
	validity atomic.Int64
	limiter  *rate.Limiter
	sem      *semaphore.Weighted
}

func (s *session) setValidity(d time.Duration) { s.validity.Store(int64(d)) }

func (s *session) leaseValidity() time.Duration { return time.Duration(s.validity.Load()) }

// send 直接向本连接写一帧。
func (s *session) send(frame protocol.Frame) {
	b, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("user_id", s.key).Msg("encode frame")
		return
	}
	if err := s.client.Send(b); err != nil {
		log.Debug().Err(err).Str("user_id", s.key).Str("type", frame.Type).Msg("drop frame")
	}
}

// Serve 升级 /ws/:user_id 上的请求并运行连接，直到连接关闭、被新连接替换或租约到期。
func (s *Server) Serve(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	ctx := c.Request.Context()
	client := newClient(conn)

	userID, lease, err := s.handshake(ctx, c.Param("user_id"), client)
	if err != nil {
		code, reason := closeCode(err)
		ev := log.Info()
		if code == CloseInternal {
			ev = log.Error()
		}
		ev.Err(err).Str("user_id", c.Param("user_id")).Int("code", code).Msg("handshake refused")
		client.closeWith(code, reason)
		return
	}

	sess := &session{
		userID:  userID,
		key:     userID.String(),
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(s.opts.FrameRate), s.opts.FrameBurst),
		sem:     semaphore.NewWeighted(int64(s.opts.HandlerConcurrency)),
	}
	sess.setValidity(lease.Validity)

	s.hub.Register(sess.key, client)
	s.hub.MarkAuthenticated(sess.key)
	defer s.hub.Unregister(sess.key, client)

	sess.send(protocol.Push(protocol.TypeReplyInit, map[string]string{"status": "200", "message": "Connection established"}))
	client.keepAlive()
	log.Info().Str("user_id", sess.key).Msg("session established")

	err = s.run(ctx, sess)
	log.Info().Err(err).Str("user_id", sess.key).Msg("session closed")
}

// run 管理连接上的所有任务，任一任务失败即结束整组任务。
func (s *Server) run(ctx context.Context, sess *session) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(sess.client.writePump)
	g.Go(func() error {
		<-ctx.Done()
		_ = sess.client.Close()
		return nil
	})
	g.Go(func() error { return s.receive(ctx, g, sess) })
	g.Go(func() error { return s.watchLease(ctx, sess) })
	g.Go(func() error {
		s.deliverUnread(ctx, sess)
		return nil
	})
	return g.Wait()
}

// handshake 读取初始帧，并与路径中的 user id 一起校验。
func (s *Server) handshake(ctx context.Context, rawID string, client *Client) (uuid.UUID, *service.Lease, error) {
	data, err := client.read()
	if err != nil {
		return uuid.Nil, nil, errBadInit
	}
	var init struct {
		Content protocol.InitContent `json:"content"`
	}
	if err := json.Unmarshal(data, &init); err != nil {
		return uuid.Nil, nil, errBadInit
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, nil, errInvalidUserID
	}
	lease, err := s.svc.Users.VerifyAccess(ctx, userID, init.Content.AccessToken, init.Content.DeviceID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return userID, lease, nil
}

// closeCode 把握手失败映射为关闭码和简短原因。
func closeCode(err error) (int, string) {
	switch {
	case errors.Is(err, errBadInit):
		return CloseBadRequest, "Invalid message format"
	case errors.Is(err, errInvalidUserID):
		return CloseBadRequest, "Invalid user_id format"
	case errors.Is(err, service.ErrUserNotFound):
		return CloseNotFound, "User not found"
	case errors.Is(err, service.ErrTokenMismatch), errors.Is(err, service.ErrTokenUnknown):
		return CloseUnauthorized, "invalid access_token"
	case errors.Is(err, service.ErrTokenExpired):
		return CloseForbidden, "access_token expired"
	case errors.Is(err, service.ErrDeviceMismatch):
		return CloseForbidden, "Invalid device_id"
	default:
		return CloseInternal, "Internal Server Error"
	}
}
