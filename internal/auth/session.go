package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"io"
	"net/mail"

	"github.com/google/uuid"

	"github.com/gatekey/backend/internal/webauthn"
	"github.com/gatekey/backend/pkg/utils"
)

var tokenEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// GenerateSessionToken returns a fresh opaque bearer token. Only its
// SHA-256 hash is ever stored.
func GenerateSessionToken() (string, error) {
	raw := make([]byte, 20)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return tokenEncoding.EncodeToString(raw), nil
}

func sessionIDFromToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MintedSession pairs a new session with the raw token handed to the
// client.
type MintedSession struct {
	Token   string
	Session Session
}

// CreateSession mints a session for the user. The two-factor flag is set
// only when the sign-in proof itself was a second factor.
func (s *Service) CreateSession(userID uuid.UUID, twoFactorVerified bool) (*MintedSession, error) {
	token, err := GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	session := Session{
		ID:                sessionIDFromToken(token),
		UserID:            userID,
		ExpiresAt:         s.now().Add(sessionLifetime),
		TwoFactorVerified: twoFactorVerified,
	}
	if err := s.store.CreateSession(&session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &MintedSession{Token: token, Session: session}, nil
}

// ValidateSessionToken resolves a bearer token. An expired session is
// deleted and reads as absent; a session inside the renewal window has its
// expiry extended as a side effect of the read.
func (s *Service) ValidateSessionToken(token string) (*Session, *User, error) {
	session, user, err := s.store.GetSession(sessionIDFromToken(token))
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, nil
	}

	now := s.now()
	if !now.Before(session.ExpiresAt) {
		if err := s.store.DeleteSession(session.ID); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}
	if !now.Before(session.ExpiresAt.Add(-sessionRenewalWindow)) {
		session.ExpiresAt = now.Add(sessionLifetime)
		if err := s.store.UpdateSessionExpiry(session.ID, session.ExpiresAt); err != nil {
			return nil, nil, err
		}
	}
	return session, user, nil
}

func (s *Service) InvalidateSession(sessionID string) error {
	return s.store.DeleteSession(sessionID)
}

func (s *Service) InvalidateUserSessions(userID uuid.UUID) error {
	return s.store.DeleteUserSessions(userID)
}

// SignOut deletes the session server-side; the transport layer clears the
// bearer cookie.
func (s *Service) SignOut(session *Session) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if err := s.store.DeleteSession(session.ID); err != nil {
		return Result{}, err
	}
	return RedirectTo(RedirectSignIn), nil
}

type SignInInput struct {
	Email    string
	Password string
	ClientIP string
}

// SignIn verifies an email/password claim and mints an unverified session.
// The IP bucket gates volume and the per-user throttler gates sequential
// guessing; the throttler is only consumed after the account is known to
// exist so unknown emails cannot lock out a victim.
func (s *Service) SignIn(in SignInInput) (*MintedSession, Result, error) {
	if in.ClientIP != "" && !s.signInIPBucket.Check(in.ClientIP, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	if in.Email == "" || in.Password == "" {
		return nil, Fail(MsgMissingCredentials), nil
	}
	if !validEmail(in.Email) {
		return nil, Fail(MsgInvalidEmail), nil
	}

	user, err := s.store.GetUserByEmail(in.Email)
	if err != nil {
		return nil, Result{}, err
	}
	if user == nil {
		return nil, Fail(MsgAccountDoesNotExist), nil
	}

	if in.ClientIP != "" && !s.signInIPBucket.Consume(in.ClientIP, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}
	if !s.signInThrottler.Consume(user.ID) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	passwordHash, err := s.store.GetUserPasswordHash(user.ID)
	if err != nil {
		return nil, Result{}, err
	}
	if !utils.CheckPassword(in.Password, passwordHash) {
		return nil, Fail(MsgInvalidPassword), nil
	}
	s.signInThrottler.Reset(user.ID)

	minted, err := s.CreateSession(user.ID, false)
	if err != nil {
		return nil, Result{}, err
	}

	if !user.EmailVerified {
		return minted, RedirectTo(RedirectVerifyEmail), nil
	}
	if !user.Registered2FA() {
		return minted, RedirectTo(RedirectTwoFactorSetup), nil
	}
	return minted, RedirectTo(s.TwoFactorRedirect(user)), nil
}

type SignUpInput struct {
	Username string
	Email    string
	Password string
	ClientIP string
}

// SignUpOutput carries the minted session plus the pending email
// verification request whose id the transport layer hands to the client.
type SignUpOutput struct {
	Session             *MintedSession
	VerificationRequest *EmailVerificationRequest
}

func (s *Service) SignUp(in SignUpInput) (*SignUpOutput, Result, error) {
	if in.ClientIP != "" && !s.signUpIPBucket.Check(in.ClientIP, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	if in.Email == "" || in.Password == "" || in.Username == "" {
		return nil, Fail(MsgInvalidFields), nil
	}
	if !validEmail(in.Email) {
		return nil, Fail(MsgInvalidEmail), nil
	}

	available, err := s.store.EmailAvailable(in.Email)
	if err != nil {
		return nil, Result{}, err
	}
	if !available {
		return nil, Fail(MsgEmailAlreadyUsed), nil
	}
	if !validUsername(in.Username) {
		return nil, Fail(MsgInvalidUsername), nil
	}
	if !strongPassword(in.Password) {
		return nil, Fail(MsgWeakPassword), nil
	}

	if in.ClientIP != "" && !s.signUpIPBucket.Consume(in.ClientIP, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	passwordHash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, Result{}, err
	}
	recoveryCode, err := utils.GenerateRecoveryCode()
	if err != nil {
		return nil, Result{}, err
	}
	encryptedRecoveryCode, err := utils.EncryptAESGCM(recoveryCode)
	if err != nil {
		return nil, Result{}, err
	}

	user, err := s.store.CreateUser(in.Email, in.Username, passwordHash, encryptedRecoveryCode)
	if err != nil {
		return nil, Result{}, err
	}

	request, err := s.createEmailVerificationRequest(user.ID, user.Email)
	if err != nil {
		return nil, Result{}, err
	}
	if err := s.mailer.SendVerificationCode(request.Email, request.Code); err != nil {
		return nil, Result{}, err
	}

	minted, err := s.CreateSession(user.ID, false)
	if err != nil {
		return nil, Result{}, err
	}

	out := &SignUpOutput{Session: minted, VerificationRequest: request}
	return out, RedirectTo(RedirectTwoFactorSetup), nil
}

// SignInWithPasskey authenticates from a discoverable-credential assertion
// alone; the credential id resolves the user. Both user presence and user
// verification are required since the passkey acts as both factors, and the
// session is minted already two-factor verified.
func (s *Service) SignInWithPasskey(in Assertion) (*MintedSession, Result, error) {
	data, err := webauthn.ParseAuthenticatorData(in.AuthenticatorData)
	if err != nil {
		return nil, Fail(MsgInvalidData), nil
	}
	if !data.VerifyRelyingPartyIDHash(s.rpHost) {
		return nil, Fail(MsgInvalidData), nil
	}
	if !data.UserPresent || !data.UserVerified {
		return nil, Fail(MsgInvalidData), nil
	}

	clientData, err := webauthn.ParseClientDataJSON(in.ClientDataJSON)
	if err != nil {
		return nil, Fail(MsgInvalidData), nil
	}
	if clientData.Type != webauthn.CeremonyGet {
		return nil, Fail(MsgInvalidData), nil
	}
	if !s.challenges.Consume(clientData.Challenge) {
		return nil, Fail(MsgInvalidData), nil
	}
	if clientData.Origin != s.rpOrigin || clientData.IsCrossOrigin() {
		return nil, Fail(MsgInvalidData), nil
	}

	credential, err := s.store.GetWebAuthnCredential(in.CredentialID, KindPasskey)
	if err != nil {
		return nil, Result{}, err
	}
	if credential == nil {
		return nil, Fail(MsgInvalidData), nil
	}

	valid, err := webauthn.VerifyAssertionSignature(credential.Algorithm, credential.PublicKey, in.AuthenticatorData, in.ClientDataJSON, in.Signature)
	if err != nil {
		// A corrupt stored algorithm id is data corruption, not attacker
		// input.
		return nil, Result{}, fmt.Errorf("passkey sign-in: %w", err)
	}
	if !valid {
		return nil, Fail(MsgInvalidData), nil
	}

	minted, err := s.CreateSession(credential.UserID, true)
	if err != nil {
		return nil, Result{}, err
	}
	return minted, RedirectTo(RedirectHome), nil
}

func validEmail(email string) bool {
	if len(email) >= 256 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func validUsername(username string) bool {
	return len(username) > 3 && len(username) < 32
}

func strongPassword(password string) bool {
	return len(password) >= 8 && len(password) < 128
}
