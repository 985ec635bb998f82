package models

type User struct {
	BaseModel
	Email         string `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Username      string `json:"username" gorm:"type:varchar(100);not null"`
	PasswordHash  string `json:"-" gorm:"type:text;not null"`
	EmailVerified bool   `json:"emailVerified" gorm:"not null;default:false"`
	// RecoveryCode is AES-GCM encrypted at rest. Rotated on every use.
	RecoveryCode string `json:"-" gorm:"type:text;not null"`
}
