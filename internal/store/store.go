// Package store is the persistence gateway over users, tokens, rooms,
// participants, messages and friendships.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maguro923/chat-and-schedule-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction runs fn inside one database transaction. Any error returned by
// fn rolls back every write made through the tx store.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func first[T any](q *gorm.DB) (*T, error) {
	var out T
	if err := q.First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

// 用户

func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return first[models.User](s.conn(ctx).Where("id = ?", id))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return first[models.User](s.conn(ctx).Where("email = ?", email))
}

func (s *Store) UserByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	return first[models.User](s.conn(ctx).Where("refresh_token = ?", token))
}

func (s *Store) UsersByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	err := s.conn(ctx).Where("id IN ?", ids).Order("name").Find(&users).Error
	return users, err
}

// SearchUsersByName returns up to limit users whose name contains key,
// case-insensitively, never including exclude.
func (s *Store) SearchUsersByName(ctx context.Context, key string, exclude uuid.UUID, limit int) ([]models.User, error) {
	var users []models.User
	pattern := "%" + escapeLike(strings.ToLower(key)) + "%"
	err := s.conn(ctx).
		Where("LOWER(name) LIKE ? ESCAPE '\\'", pattern).
		Where("id <> ?", exclude).
		Order("name").
		Limit(limit).
		Find(&users).Error
	return users, err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	return s.conn(ctx).Create(u).Error
}

// UpdateUser writes the given columns of one user row.
func (s *Store) UpdateUser(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	res := s.conn(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// 令牌

func (s *Store) AccessToken(ctx context.Context, token string) (*models.AccessToken, error) {
	return first[models.AccessToken](s.conn(ctx).Where("token = ?", token))
}

func (s *Store) RefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	return first[models.RefreshToken](s.conn(ctx).Where("token = ?", token))
}

func (s *Store) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	return s.conn(ctx).Create(t).Error
}

func (s *Store) CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	return s.conn(ctx).Create(t).Error
}

func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	return s.conn(ctx).Where("token = ?", token).Delete(&models.AccessToken{}).Error
}

func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	return s.conn(ctx).Where("token = ?", token).Delete(&models.RefreshToken{}).Error
}

// 房间

func (s *Store) Room(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return first[models.Room](s.conn(ctx).Where("id = ?", id))
}

// LockRoom 读取房间并加行锁（SELECT ... FOR UPDATE），只应在事务内调用。
func (s *Store) LockRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return first[models.Room](s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (s *Store) RoomsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Room, error) {
	var rooms []models.Room
	if len(ids) == 0 {
		return rooms, nil
	}
	err := s.conn(ctx).Where("id IN ?", ids).Find(&rooms).Error
	return rooms, err
}

func (s *Store) CreateRoom(ctx context.Context, r *models.Room) error {
	return s.conn(ctx).Create(r).Error
}

// DeleteRoom removes the room together with all of its messages and any
// remaining participant rows.
func (s *Store) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	q := s.conn(ctx)
	if err := q.Where("room_id = ?", id).Delete(&models.Message{}).Error; err != nil {
		return err
	}
	if err := q.Where("room_id = ?", id).Delete(&models.RoomParticipant{}).Error; err != nil {
		return err
	}
	res := q.Where("id = ?", id).Delete(&models.Room{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// 参与者

func (s *Store) Participants(ctx context.Context, roomID uuid.UUID) ([]models.RoomParticipant, error) {
	var ps []models.RoomParticipant
	err := s.conn(ctx).Where("room_id = ?", roomID).Order("joined_at").Find(&ps).Error
	return ps, err
}

func (s *Store) ParticipantsOfRooms(ctx context.Context, roomIDs []uuid.UUID) ([]models.RoomParticipant, error) {
	var ps []models.RoomParticipant
	if len(roomIDs) == 0 {
		return ps, nil
	}
	err := s.conn(ctx).Where("room_id IN ?", roomIDs).Order("joined_at").Find(&ps).Error
	return ps, err
}

// Memberships lists the participant rows of one user across all rooms.
func (s *Store) Memberships(ctx context.Context, userID uuid.UUID) ([]models.RoomParticipant, error) {
	var ps []models.RoomParticipant
	err := s.conn(ctx).Where("user_id = ?", userID).Order("joined_at").Find(&ps).Error
	return ps, err
}

func (s *Store) Participant(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomParticipant, error) {
	return first[models.RoomParticipant](s.conn(ctx).Where("room_id = ? AND user_id = ?", roomID, userID))
}

func (s *Store) AddParticipant(ctx context.Context, p *models.RoomParticipant) error {
	return s.conn(ctx).Create(p).Error
}

func (s *Store) RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID) error {
	res := s.conn(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&models.RoomParticipant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastViewed stamps last_viewed_at on one participant row.
func (s *Store) TouchLastViewed(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error {
	res := s.conn(ctx).Model(&models.RoomParticipant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_viewed_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// 消息

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	return s.conn(ctx).Create(m).Error
}

// MessagesAfter returns the room's messages created strictly after t, oldest first.
func (s *Store) MessagesAfter(ctx context.Context, roomID uuid.UUID, t time.Time) ([]models.Message, error) {
	var msgs []models.Message
	err := s.conn(ctx).
		Where("room_id = ? AND created_at > ?", roomID, t).
		Order("created_at").
		Find(&msgs).Error
	return msgs, err
}

func (s *Store) CountMessages(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&models.Message{}).Where("room_id = ?", roomID).Count(&n).Error
	return n, err
}

// 好友

func (s *Store) IsFriend(ctx context.Context, userID, friendID uuid.UUID) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&models.Friendship{}).
		Where("user_id = ? AND friend_id = ?", userID, friendID).
		Count(&n).Error
	return n > 0, err
}

// AddFriendship writes both directions of the pair. Callers run it inside a
// transaction so the pair is never half-written.
func (s *Store) AddFriendship(ctx context.Context, a, b uuid.UUID) error {
	rows := []models.Friendship{
		{UserID: a, FriendID: b},
		{UserID: b, FriendID: a},
	}
	return s.conn(ctx).Create(&rows).Error
}

// RemoveFriendship deletes both directions of the pair and fails if either
// direction was missing.
func (s *Store) RemoveFriendship(ctx context.Context, a, b uuid.UUID) error {
	q := s.conn(ctx)
	for _, pair := range [][2]uuid.UUID{{a, b}, {b, a}} {
		res := q.Where("user_id = ? AND friend_id = ?", pair[0], pair[1]).Delete(&models.Friendship{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func (s *Store) FriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.conn(ctx).Model(&models.Friendship{}).
		Where("user_id = ?", userID).
		Pluck("friend_id", &ids).Error
	return ids, err
}
