package auth

import (
	"errors"
	"time"
)

// APIKey is an issued credential. Only the bcrypt hash of the secret is
// stored; the prefix is kept in clear for lookup.
type APIKey struct {
	ID         int64     `json:"id"`
	CompanyID  int64     `json:"company_id"`
	UserID     int64     `json:"user_id"`
	Name       string    `json:"name"`
	Prefix     string    `json:"prefix"`
	SecretHash string    `json:"-"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// ErrInvalidAPIKey is returned for unknown, malformed or revoked keys. The
// message never distinguishes the cases.
var ErrInvalidAPIKey = errors.New("auth: invalid API key")
