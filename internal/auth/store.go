package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// CredentialKind distinguishes the two WebAuthn credential classes. They
// share verification logic; only the registration ceremony intent differs.
type CredentialKind string

const (
	KindPasskey     CredentialKind = "passkey"
	KindSecurityKey CredentialKind = "security_key"
)

// ErrDuplicateCredential is returned by CreateWebAuthnCredential when the
// credential id already exists. Surfaced to clients as invalid data, not as
// an internal error.
var ErrDuplicateCredential = errors.New("auth: duplicate credential id")

// User is the account view the flows operate on, with the second-factor
// registration flags resolved at load time.
type User struct {
	ID                    uuid.UUID
	Email                 string
	Username              string
	EmailVerified         bool
	RegisteredTOTP        bool
	RegisteredPasskey     bool
	RegisteredSecurityKey bool
}

func (u *User) Registered2FA() bool {
	return u.RegisteredTOTP || u.RegisteredPasskey || u.RegisteredSecurityKey
}

// Session is keyed by the SHA-256 hex of the bearer token; the raw token
// never reaches storage.
type Session struct {
	ID                string
	UserID            uuid.UUID
	ExpiresAt         time.Time
	TwoFactorVerified bool
}

// PasswordResetSession mirrors Session for the recovery flow, with its own
// short fixed expiry, the target email, and the emailed code.
type PasswordResetSession struct {
	ID                string
	UserID            uuid.UUID
	Email             string
	Code              string
	ExpiresAt         time.Time
	EmailVerified     bool
	TwoFactorVerified bool
}

type EmailVerificationRequest struct {
	ID        string
	UserID    uuid.UUID
	Email     string
	Code      string
	ExpiresAt time.Time
}

type WebAuthnCredential struct {
	ID        []byte
	UserID    uuid.UUID
	Kind      CredentialKind
	Name      string
	Algorithm int32
	PublicKey []byte
}

// Store is the typed storage collaborator. Expiry semantics are honored by
// the caller, not the store; lookups return nil (or empty) rather than an
// error when a row is absent.
type Store interface {
	CreateUser(email, username, passwordHash, encryptedRecoveryCode string) (*User, error)
	GetUserByEmail(email string) (*User, error)
	GetUserByID(id uuid.UUID) (*User, error)
	EmailAvailable(email string) (bool, error)
	GetUserPasswordHash(userID uuid.UUID) (string, error)
	UpdateUserPassword(userID uuid.UUID, passwordHash string) error
	UpdateUserEmailAndSetVerified(userID uuid.UUID, email string) error
	// SetUserEmailVerifiedIfEmailMatches flips the account flag only when the
	// stored email still equals the given one, guarding against a racing
	// email change. Reports whether a row was updated.
	SetUserEmailVerifiedIfEmailMatches(userID uuid.UUID, email string) (bool, error)
	GetUserRecoveryCode(userID uuid.UUID) (string, error)
	UpdateUserRecoveryCode(userID uuid.UUID, encryptedCode string) error
	// RotateRecoveryCode swaps the stored code only if it still equals the
	// given old value, and in the same transaction deletes every TOTP and
	// WebAuthn credential and clears the two-factor flag on all of the
	// user's sessions. Reports false when the code was concurrently rotated.
	RotateRecoveryCode(userID uuid.UUID, oldEncrypted, newEncrypted string) (bool, error)

	CreateSession(session *Session) error
	GetSession(id string) (*Session, *User, error)
	UpdateSessionExpiry(id string, expiresAt time.Time) error
	SetSessionTwoFactorVerified(id string) error
	DeleteSession(id string) error
	DeleteUserSessions(userID uuid.UUID) error

	CreatePasswordResetSession(session *PasswordResetSession) error
	GetPasswordResetSession(id string) (*PasswordResetSession, *User, error)
	SetPasswordResetSessionEmailVerified(id string) error
	SetPasswordResetSessionTwoFactorVerified(id string) error
	DeletePasswordResetSession(id string) error
	DeleteUserPasswordResetSessions(userID uuid.UUID) error

	CreateEmailVerificationRequest(request *EmailVerificationRequest) error
	GetEmailVerificationRequest(userID uuid.UUID, id string) (*EmailVerificationRequest, error)
	DeleteUserEmailVerificationRequests(userID uuid.UUID) error

	// GetTOTPKey returns the encrypted key, or "" when none is registered.
	GetTOTPKey(userID uuid.UUID) (string, error)
	ReplaceTOTPKey(userID uuid.UUID, encryptedKey string) error
	DeleteTOTPKey(userID uuid.UUID) error

	CreateWebAuthnCredential(credential *WebAuthnCredential) error
	// GetWebAuthnCredential looks up a credential by id alone; used for
	// primary passkey sign-in where the credential resolves the user.
	GetWebAuthnCredential(credentialID []byte, kind CredentialKind) (*WebAuthnCredential, error)
	GetUserWebAuthnCredential(userID uuid.UUID, credentialID []byte, kind CredentialKind) (*WebAuthnCredential, error)
	GetUserWebAuthnCredentials(userID uuid.UUID, kind CredentialKind) ([]WebAuthnCredential, error)
	CountWebAuthnCredentials(userID uuid.UUID, kind CredentialKind) (int, error)
	DeleteWebAuthnCredential(userID uuid.UUID, credentialID []byte, kind CredentialKind) (bool, error)
}

// Mailer delivers one-time codes out of band. Failure handling beyond the
// returned error (retry, queueing) is the implementation's concern.
type Mailer interface {
	SendVerificationCode(email, code string) error
	SendPasswordResetCode(email, code string) error
}
