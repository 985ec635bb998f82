package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailVerificationRequest is the pending proof-of-ownership for an email
// address. At most one live row per user; recreation supersedes.
type EmailVerificationRequest struct {
	ID        string    `json:"-" gorm:"type:varchar(64);primaryKey"`
	UserID    uuid.UUID `json:"userID" gorm:"type:uuid;index;not null"`
	Email     string    `json:"email" gorm:"type:varchar(255);not null"`
	Code      string    `json:"-" gorm:"type:varchar(16);not null"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
	User      User      `json:"-" gorm:"foreignKey:UserID"`
}
