package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maguro923/chat-and-schedule-backend/internal/auth"
	"github.com/maguro923/chat-and-schedule-backend/internal/models"
	"github.com/maguro923/chat-and-schedule-backend/internal/protocol"
	"github.com/maguro923/chat-and-schedule-backend/internal/store"
)

// UserService 封装账号、令牌租约与用户查询。
type UserService struct {
	d Deps
}

func NewUserService(d Deps) *UserService {
	return &UserService{d: d}
}

// RegisterResult 注册成功后返回的数据。
type RegisterResult struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Register 创建用户，邮箱重复时返回 ErrEmailTaken。
func (s *UserService) Register(ctx context.Context, name, email, password string) (*RegisterResult, error) {
	_, err := s.d.Store.UserByEmail(ctx, email)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := models.User{ID: uuid.New(), Name: name, Email: email, PasswordHash: hash}
	if err := s.d.Store.CreateUser(ctx, &u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &RegisterResult{UserID: u.ID.String(), Name: u.Name}, nil
}

// TokenResult 登录或刷新后返回的令牌。
type TokenResult struct {
	UserID             string    `json:"user_id"`
	AccessToken        string    `json:"access_token"`
	RefreshToken       string    `json:"refresh_token"`
	AccessTokenExpires time.Time `json:"access_token_expires"`
}

func hours(d time.Duration) int {
	h := int(d / time.Hour)
	if h < 1 {
		h = 1
	}
	return h
}

// Login 校验密码，绑定设备并轮换整套令牌。
func (s *UserService) Login(ctx context.Context, email, password, deviceID, pushToken string) (*TokenResult, error) {
	u, err := s.d.Store.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.VerifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	access, err := auth.GenerateToken()
	if err != nil {
		return nil, err
	}
	refresh, err := auth.GenerateToken()
	if err != nil {
		return nil, err
	}

	now := s.d.now()
	at := models.AccessToken{Token: access, CreatedAt: now, ValidityHours: hours(s.d.AccessTokenValidity)}
	rt := models.RefreshToken{Token: refresh, CreatedAt: now, ValidityHours: hours(s.d.RefreshTokenValidity)}
	fields := map[string]any{"access_token": access, "refresh_token": refresh, "device_id": deviceID}
	if pushToken != "" {
		fields["push_token"] = pushToken
	}
	err = s.d.Store.Transaction(ctx, func(tx *store.Store) error {
		if u.AccessToken != "" {
			if err := tx.DeleteAccessToken(ctx, u.AccessToken); err != nil {
				return err
			}
		}
		if u.RefreshToken != "" {
			if err := tx.DeleteRefreshToken(ctx, u.RefreshToken); err != nil {
				return err
			}
		}
		if err := tx.CreateAccessToken(ctx, &at); err != nil {
			return err
		}
		if err := tx.CreateRefreshToken(ctx, &rt); err != nil {
			return err
		}
		return tx.UpdateUser(ctx, u.ID, fields)
	})
	if err != nil {
		return nil, fmt.Errorf("rotate tokens: %w", err)
	}
	return &TokenResult{
		UserID:             u.ID.String(),
		AccessToken:        access,
		RefreshToken:       refresh,
		AccessTokenExpires: auth.LeaseExpiry(at.CreatedAt, at.ValidityHours),
	}, nil
}

// Refresh 用 refresh token 换取新的 access token，旧 access token 失效。
func (s *UserService) Refresh(ctx context.Context, refreshToken, deviceID string) (*TokenResult, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	u, err := s.d.Store.UserByRefreshToken(ctx, refreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}
	rec, err := s.d.Store.RefreshToken(ctx, refreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}
	now := s.d.now()
	if !auth.LeaseValid(rec.CreatedAt, rec.ValidityHours, now) {
		return nil, ErrInvalidRefreshToken
	}
	if u.DeviceID != deviceID {
		return nil, ErrDeviceMismatch
	}

	access, err := auth.GenerateToken()
	if err != nil {
		return nil, err
	}
	at := models.AccessToken{Token: access, CreatedAt: now, ValidityHours: hours(s.d.AccessTokenValidity)}
	err = s.d.Store.Transaction(ctx, func(tx *store.Store) error {
		if u.AccessToken != "" {
			if err := tx.DeleteAccessToken(ctx, u.AccessToken); err != nil {
				return err
			}
		}
		if err := tx.CreateAccessToken(ctx, &at); err != nil {
			return err
		}
		return tx.UpdateUser(ctx, u.ID, map[string]any{"access_token": access})
	})
	if err != nil {
		return nil, fmt.Errorf("rotate access token: %w", err)
	}
	return &TokenResult{
		UserID:             u.ID.String(),
		AccessToken:        access,
		RefreshToken:       refreshToken,
		AccessTokenExpires: auth.LeaseExpiry(at.CreatedAt, at.ValidityHours),
	}, nil
}

// Lease is a verified access grant.
type Lease struct {
	User     *models.User
	Validity time.Duration
}

// VerifyAccess checks, in order, that the user exists, that token is the
// user's current access token, that its record is unexpired and that the
// device is the bound one. It backs both the handshake and ReAuth.
func (s *UserService) VerifyAccess(ctx context.Context, userID uuid.UUID, token, deviceID string) (*Lease, error) {
	u, err := s.d.Store.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if token == "" || u.AccessToken != token {
		return nil, ErrTokenMismatch
	}
	rec, err := s.d.Store.AccessToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTokenUnknown
	}
	if err != nil {
		return nil, err
	}
	if !auth.LeaseValid(rec.CreatedAt, rec.ValidityHours, s.d.now()) {
		return nil, ErrTokenExpired
	}
	if u.DeviceID != deviceID {
		return nil, ErrDeviceMismatch
	}
	return &Lease{User: u, Validity: time.Duration(rec.ValidityHours) * time.Hour}, nil
}

// SearchUsers 以 "#<id>" 精确查找，否则按名字模糊匹配；结果不含请求者本人。
func (s *UserService) SearchUsers(ctx context.Context, requester uuid.UUID, key string) ([]protocol.UserInfo, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrInvalidSearchKey
	}
	out := []protocol.UserInfo{}

	if strings.HasPrefix(key, "#") {
		id, err := uuid.Parse(key[1:])
		if err != nil {
			return nil, ErrInvalidSearchKey
		}
		if id == requester {
			return out, nil
		}
		u, err := s.d.Store.UserByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		return append(out, userInfo(*u)), nil
	}

	users, err := s.d.Store.SearchUsersByName(ctx, key, requester, s.d.SearchLimit)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out = append(out, userInfo(u))
	}
	return out, nil
}

// ReAuth re-validates a presented token in-band and resets the live lease
// baseline without touching the socket binding.
func (s *UserService) ReAuth(ctx context.Context, userID uuid.UUID, token, deviceID string) (*Lease, error) {
	lease, err := s.VerifyAccess(ctx, userID, token, deviceID)
	if err != nil {
		return nil, err
	}
	s.d.Hub.MarkAuthenticated(userID.String())
	return lease, nil
}
