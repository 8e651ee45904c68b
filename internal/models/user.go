package models

import (
	"time"

	"github.com/google/uuid"
)

// Role names the permission tier of a user account.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleAlly     Role = "ally"
	RoleCustomer Role = "customer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAlly, RoleCustomer:
		return true
	}
	return false
}

// User is identified by phone; the same row backs customers, allies and admins.
type User struct {
	BaseModel
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Phone        string        `gorm:"uniqueIndex;not null" json:"phone"`
	Email        string        `json:"email"`
	Role         Role          `gorm:"type:varchar(16);default:customer;index" json:"role"`
	PasswordHash string        `json:"-"`
	IsActive     bool          `gorm:"default:true" json:"is_active"`
	Addresses    []UserAddress `json:"addresses,omitempty"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Session is one row per login. The refresh token is reused until it
// expires; only the access token id rotates.
type Session struct {
	BaseModel
	UserID           uuid.UUID  `gorm:"type:uuid;index;not null" json:"user_id"`
	User             *User      `json:"user,omitempty"`
	AccessTokenID    string     `gorm:"index" json:"-"`
	RefreshTokenID   string     `gorm:"uniqueIndex" json:"-"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
	Revoked          bool       `gorm:"index" json:"revoked"`
	RevokedAt        *time.Time `json:"revoked_at"`
	Device           string     `json:"device"`
	IP               string     `json:"ip"`
}

// Active reports whether the session can still mint access tokens.
func (s Session) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.RefreshExpiresAt)
}

// PasswordResetToken tracks a forgot-password flow for a phone number.
type PasswordResetToken struct {
	BaseModel
	Phone     string     `gorm:"index" json:"phone"`
	Token     string     `gorm:"uniqueIndex" json:"-"`
	Code      string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	Verified  bool       `json:"verified"`
	Attempts  int        `gorm:"not null;default:0" json:"attempts"`
	UsedAt    *time.Time `json:"used_at"`
}
