package auth

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/gatekey/backend/pkg/utils"
)

// TOTP keys are stored as their base32 encoding, AES-GCM encrypted.
var totpKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func (s *Service) verifyTOTPCode(secret, code string) bool {
	valid, err := totp.ValidateCustom(code, secret, s.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// TOTPSetup carries the enrolment material shown to the user: the raw key
// the client echoes back with its first code, and the otpauth URI for the
// QR code.
type TOTPSetup struct {
	EncodedKey string
	URI        string
}

// GenerateTOTPSetup creates fresh enrolment material. Nothing is stored
// until SetupTOTP confirms the first code.
func (s *Service) GenerateTOTPSetup(user *User) (*TOTPSetup, error) {
	raw := make([]byte, totpKeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.rpHost,
		AccountName: user.Email,
		Secret:      raw,
	})
	if err != nil {
		return nil, err
	}
	return &TOTPSetup{
		EncodedKey: base64.StdEncoding.EncodeToString(raw),
		URI:        key.URL(),
	}, nil
}

// VerifyTOTP checks a 6-digit code against the user's registered key and
// marks the session two-factor verified. The attempt bucket is cleared on
// success so it cannot linger as a probing budget.
func (s *Service) VerifyTOTP(session *Session, user *User, code string) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if !user.EmailVerified || !user.RegisteredTOTP || session.TwoFactorVerified {
		return Fail(MsgForbidden), nil
	}
	if !s.totpBucket.Check(user.ID, 1) {
		return Fail(MsgTooManyRequests), nil
	}

	if code == "" {
		return Fail(MsgEnterCode), nil
	}
	if !s.totpBucket.Consume(user.ID, 1) {
		return Fail(MsgTooManyRequests), nil
	}

	secret, err := s.totpSecret(user)
	if err != nil {
		return Result{}, err
	}
	if secret == "" {
		return Fail(MsgForbidden), nil
	}
	if !s.verifyTOTPCode(secret, code) {
		return Fail(MsgInvalidCode), nil
	}

	s.totpBucket.Reset(user.ID)
	if err := s.store.SetSessionTwoFactorVerified(session.ID); err != nil {
		return Result{}, err
	}
	return RedirectTo(RedirectHome), nil
}

// SetupTOTP registers (or wholesale replaces) the user's TOTP key after the
// first code proves the client holds it. Registering a first second factor
// also upgrades the session and reveals the recovery code.
func (s *Service) SetupTOTP(session *Session, user *User, encodedKey, code string) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if !user.EmailVerified {
		return Fail(MsgForbidden), nil
	}
	if user.Registered2FA() && !session.TwoFactorVerified {
		return Fail(MsgForbidden), nil
	}
	if !s.totpUpdateBucket.Check(user.ID, 1) {
		return Fail(MsgTooManyRequests), nil
	}

	if code == "" {
		return Fail(MsgEnterCode), nil
	}
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil || len(raw) != totpKeySize {
		return Fail(MsgInvalidKey), nil
	}

	if !s.totpUpdateBucket.Consume(user.ID, 1) {
		return Fail(MsgTooManyRequests), nil
	}
	if !s.verifyTOTPCode(totpKeyEncoding.EncodeToString(raw), code) {
		return Fail(MsgInvalidCode), nil
	}

	encrypted, err := utils.EncryptAESGCM(totpKeyEncoding.EncodeToString(raw))
	if err != nil {
		return Result{}, err
	}
	if err := s.store.ReplaceTOTPKey(user.ID, encrypted); err != nil {
		return Result{}, err
	}
	if err := s.store.SetSessionTwoFactorVerified(session.ID); err != nil {
		return Result{}, err
	}

	if !user.Registered2FA() {
		return RedirectTo(RedirectRecoveryCode), nil
	}
	return RedirectTo(RedirectHome), nil
}

// DisconnectTOTP removes the user's authenticator app key.
func (s *Service) DisconnectTOTP(session *Session, user *User) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if !user.EmailVerified {
		return Fail(MsgForbidden), nil
	}
	if user.Registered2FA() && !session.TwoFactorVerified {
		return Fail(MsgForbidden), nil
	}
	if !s.totpUpdateBucket.Consume(user.ID, 1) {
		return Fail(MsgTooManyRequests), nil
	}

	if err := s.store.DeleteTOTPKey(user.ID); err != nil {
		return Result{}, err
	}
	return Fail(MsgTOTPDisconnected), nil
}

// totpSecret returns the decrypted base32 secret, or "" when none is
// registered.
func (s *Service) totpSecret(user *User) (string, error) {
	encrypted, err := s.store.GetTOTPKey(user.ID)
	if err != nil {
		return "", err
	}
	if encrypted == "" {
		return "", nil
	}
	secret, err := utils.DecryptAESGCM(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt totp key: %w", err)
	}
	return secret, nil
}
