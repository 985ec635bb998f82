package models

import (
	"time"

	"github.com/google/uuid"
)

// Session rows are keyed by the SHA-256 of the bearer token, so a database
// leak never exposes a usable credential.
type Session struct {
	ID                string    `json:"-" gorm:"type:varchar(64);primaryKey"`
	UserID            uuid.UUID `json:"userID" gorm:"type:uuid;index;not null"`
	ExpiresAt         time.Time `json:"expiresAt" gorm:"not null;index"`
	TwoFactorVerified bool      `json:"twoFactorVerified" gorm:"not null;default:false"`
	CreatedAt         time.Time `json:"createdAt" gorm:"not null"`
	User              User      `json:"-" gorm:"foreignKey:UserID"`
}

// PasswordResetSession mirrors Session for the recovery flow: its own token,
// a short fixed expiry, the target email, and the emailed code.
type PasswordResetSession struct {
	ID                string    `json:"-" gorm:"type:varchar(64);primaryKey"`
	UserID            uuid.UUID `json:"userID" gorm:"type:uuid;index;not null"`
	Email             string    `json:"-" gorm:"type:varchar(255);not null"`
	Code              string    `json:"-" gorm:"type:varchar(16);not null"`
	ExpiresAt         time.Time `json:"expiresAt" gorm:"not null;index"`
	EmailVerified     bool      `json:"emailVerified" gorm:"not null;default:false"`
	TwoFactorVerified bool      `json:"twoFactorVerified" gorm:"not null;default:false"`
	CreatedAt         time.Time `json:"createdAt" gorm:"not null"`
	User              User      `json:"-" gorm:"foreignKey:UserID"`
}
