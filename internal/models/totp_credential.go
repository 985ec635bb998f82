package models

import "github.com/google/uuid"

type TOTPCredential struct {
	BaseModel
	UserID uuid.UUID `json:"userID" gorm:"type:uuid;uniqueIndex;not null"`
	// Key is the base32-encoded 20-byte TOTP key, AES-GCM encrypted at rest.
	Key  string `json:"-" gorm:"type:text;not null"`
	User User   `json:"-" gorm:"foreignKey:UserID"`
}
