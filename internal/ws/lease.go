package ws

import (
	"context"
	"time"

	"github.com/maguro923/chat-and-schedule-backend/internal/protocol"
	"github.com/rs/zerolog/log"
)

// sleepUntil 阻塞到 t 或 ctx 结束。
func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// leaseStart 返回本连接的租约起点；同一用户已有新连接时结束监视。
func (s *Server) leaseStart(sess *session) (time.Time, error) {
	conn, ok := s.hub.Lookup(sess.key)
	if !ok || conn != sess.client {
		return time.Time{}, errReplaced
	}
	start, _ := s.hub.LeaseStart(sess.key)
	return start, nil
}

// watchLease 在租约到期前 WarnLead 发出提醒，再等待 WarnLead，
// 若期间没有 ReAuth 刷新起点则关闭连接。
func (s *Server) watchLease(ctx context.Context, sess *session) error {
	lead := s.opts.WarnLead
	for {
		start, err := s.leaseStart(sess)
		if err != nil {
			return err
		}
		if err := sleepUntil(ctx, start.Add(sess.leaseValidity()-lead)); err != nil {
			return err
		}
		sess.send(protocol.Push(protocol.TypeAuthInfo, protocol.Message{
			Message: "Your access token expires in " + lead.String() + ". Please refresh access token.",
		}))
		if err := sleepUntil(ctx, time.Now().Add(lead)); err != nil {
			return err
		}

		start, err = s.leaseStart(sess)
		if err != nil {
			return err
		}
		if !time.Now().UTC().Before(start.Add(sess.leaseValidity())) {
			log.Info().Str("user_id", sess.key).Msg("lease expired, closing session")
			sess.client.closeWith(CloseForbidden, "access_token expired")
			return errLeaseExpired
		}
	}
}
