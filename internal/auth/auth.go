package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// GenerateToken returns an opaque 64 character hex token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// LeaseExpiry is the first instant at which a token created at createdAt
// with the given validity is no longer accepted.
func LeaseExpiry(createdAt time.Time, validityHours int) time.Time {
	return createdAt.UTC().Add(time.Duration(validityHours) * time.Hour)
}

// LeaseValid reports now < createdAt + validityHours, compared in UTC.
func LeaseValid(createdAt time.Time, validityHours int, now time.Time) bool {
	return now.UTC().Before(LeaseExpiry(createdAt, validityHours))
}
