package models

import (
	"time"

	"github.com/google/uuid"
)

// CredentialKind distinguishes the two WebAuthn credential classes. They
// share verification logic; only the registration ceremony intent differs.
type CredentialKind string

const (
	CredentialKindPasskey     CredentialKind = "passkey"
	CredentialKindSecurityKey CredentialKind = "security_key"
)

// COSE algorithm identifiers accepted by the verifiers.
const (
	AlgorithmES256 int32 = -7
	AlgorithmRS256 int32 = -257
)

type WebAuthnCredential struct {
	// CredentialID is the authenticator-assigned opaque id.
	CredentialID []byte         `json:"credentialID" gorm:"type:bytea;primaryKey"`
	UserID       uuid.UUID      `json:"userID" gorm:"type:uuid;index;not null"`
	Kind         CredentialKind `json:"kind" gorm:"type:varchar(20);not null;index"`
	Name         string         `json:"name" gorm:"type:varchar(100);not null"`
	// Algorithm is the COSE identifier (ES256 or RS256).
	Algorithm int32 `json:"algorithm" gorm:"not null"`
	// PublicKey is SEC1-uncompressed (ES256) or PKCS#1 DER (RS256).
	PublicKey []byte    `json:"-" gorm:"type:bytea;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
	User      User      `json:"-" gorm:"foreignKey:UserID"`
}

func (WebAuthnCredential) TableName() string {
	return "webauthn_credentials"
}
