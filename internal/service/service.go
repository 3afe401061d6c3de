// Package service holds the business handlers behind the chat socket and the
// auth REST endpoints. Every handler persists first and only then touches the
// live registry and the push gateway.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/maguro923/chat-and-schedule-backend/internal/avatar"
	"github.com/maguro923/chat-and-schedule-backend/internal/hub"
	"github.com/maguro923/chat-and-schedule-backend/internal/models"
	"github.com/maguro923/chat-and-schedule-backend/internal/protocol"
	"github.com/maguro923/chat-and-schedule-backend/internal/push"
	"github.com/maguro923/chat-and-schedule-backend/internal/store"
	"github.com/rs/zerolog/log"
)

// Deps 是各个 service 共享的依赖。
type Deps struct {
	Store   *store.Store
	Hub     *hub.Hub
	Push    push.Gateway
	Avatars avatar.Store
	// Effects 执行提交后的推送；nil 时在调用方同步执行。
	Effects *Effects

	AccessTokenValidity  time.Duration
	RefreshTokenValidity time.Duration
	SearchLimit          int

	// Now overrides the clock; nil means time.Now. Results are always UTC.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// pushTokens collects the registered device tokens of the given users.
func (d Deps) pushTokens(ctx context.Context, ids []uuid.UUID) []string {
	users, err := d.Store.UsersByIDs(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("load push tokens")
		return nil
	}
	tokens := make([]string, 0, len(users))
	for _, u := range users {
		if u.PushToken != "" {
			tokens = append(tokens, u.PushToken)
		}
	}
	return tokens
}

// effect 在提交之后执行推送副作用，不阻塞对请求者的回复。
func (d Deps) effect(name string, fn func(ctx context.Context) error) {
	if d.Effects != nil {
		d.Effects.Go(name, fn)
		return
	}
	if err := fn(context.Background()); err != nil {
		log.Warn().Err(err).Str("effect", name).Msg("effect failed")
	}
}

func (d Deps) subscribe(ids []uuid.UUID, roomID uuid.UUID) {
	d.effect("push subscribe", func(ctx context.Context) error {
		return d.Push.Subscribe(ctx, d.pushTokens(ctx, ids), roomID.String())
	})
}

func (d Deps) unsubscribe(ids []uuid.UUID, roomID uuid.UUID) {
	d.effect("push unsubscribe", func(ctx context.Context) error {
		return d.Push.Unsubscribe(ctx, d.pushTokens(ctx, ids), roomID.String())
	})
}

// broadcast delivers frame to every live user in ids except skip.
func (d Deps) broadcast(ids []uuid.UUID, skip uuid.UUID, frame protocol.Frame) int {
	n := 0
	for _, id := range ids {
		if id == skip {
			continue
		}
		if d.Hub.SendTo(id.String(), frame) {
			n++
		}
	}
	return n
}

func userIDs(ps []models.RoomParticipant) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.UserID)
	}
	return out
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func userInfo(u models.User) protocol.UserInfo {
	return protocol.UserInfo{ID: u.ID.String(), Name: u.Name, AvatarPath: u.AvatarPath}
}

// receiveContent renders a stored message as a ReceiveMessage payload.
func receiveContent(m *models.Message) protocol.ReceiveMessage {
	rm := protocol.ReceiveMessage{
		ID:        m.ID.String(),
		RoomID:    m.RoomID.String(),
		Type:      m.Type,
		CreatedAt: timestamp(m.CreatedAt),
	}
	if m.SenderID != nil {
		rm.SenderID = m.SenderID.String()
	}
	switch m.Type {
	case models.MessageText:
		rm.Text = m.Content
	case models.MessageImage:
		rm.Image = m.Content
	default:
		rm.Message = m.Content
	}
	return rm
}

func storedMessage(m models.Message) protocol.StoredMessage {
	sm := protocol.StoredMessage{
		ID:        m.ID.String(),
		RoomID:    m.RoomID.String(),
		Type:      m.Type,
		Content:   m.Content,
		CreatedAt: timestamp(m.CreatedAt),
	}
	if m.SenderID != nil {
		sm.SenderID = m.SenderID.String()
	}
	return sm
}
