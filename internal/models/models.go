package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name         string    `gorm:"size:64;index;not null"`
	Email        string    `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string    `gorm:"not null"`
	DeviceID     string    `gorm:"size:255"`
	AccessToken  string    `gorm:"index;size:128"`
	RefreshToken string    `gorm:"index;size:128"`
	PushToken    string    `gorm:"size:512"`
	AvatarPath   string    `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccessToken is valid while now < CreatedAt + ValidityHours.
type AccessToken struct {
	Token         string    `gorm:"primaryKey;size:128"`
	CreatedAt     time.Time `gorm:"not null"`
	ValidityHours int       `gorm:"not null"`
}

type RefreshToken struct {
	Token         string    `gorm:"primaryKey;size:128"`
	CreatedAt     time.Time `gorm:"not null"`
	ValidityHours int       `gorm:"not null"`
}

type Room struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name       string    `gorm:"size:128;not null"`
	AvatarPath string    `gorm:"size:255"`
	CreatedAt  time.Time
}

// RoomParticipant's composite key keeps a user at most once per room.
type RoomParticipant struct {
	RoomID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	JoinedAt     time.Time `gorm:"not null"`
	LastViewedAt time.Time `gorm:"not null"`
}

const (
	MessageText   = "text"
	MessageImage  = "image"
	MessageSystem = "system"
)

type Message struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RoomID    uuid.UUID  `gorm:"type:uuid;index:idx_msg_room_created;not null"`
	SenderID  *uuid.UUID `gorm:"type:uuid"`
	Type      string     `gorm:"size:16;not null"`
	Content   string     `gorm:"type:text;not null"`
	CreatedAt time.Time  `gorm:"index:idx_msg_room_created;not null"`
}

// Friendship is one direction of a symmetric pair.
type Friendship struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	FriendID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
}
