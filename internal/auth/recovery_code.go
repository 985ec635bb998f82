package auth

import (
	"crypto/subtle"
	"fmt"

	"github.com/google/uuid"

	"github.com/gatekey/backend/pkg/utils"
)

// RecoveryCode returns the user's current plaintext recovery code for the
// one-time display after a first second factor is registered.
func (s *Service) RecoveryCode(session *Session, user *User) (string, Result, error) {
	if session == nil {
		return "", Fail(MsgNotAuthenticated), nil
	}
	if !user.EmailVerified {
		return "", Fail(MsgForbidden), nil
	}
	if user.Registered2FA() && !session.TwoFactorVerified {
		return "", Fail(MsgForbidden), nil
	}

	encrypted, err := s.store.GetUserRecoveryCode(user.ID)
	if err != nil {
		return "", Result{}, err
	}
	code, err := utils.DecryptAESGCM(encrypted)
	if err != nil {
		return "", Result{}, fmt.Errorf("decrypt recovery code: %w", err)
	}
	return code, Result{}, nil
}

// RegenerateRecoveryCode replaces the user's recovery code and returns the
// new plaintext value.
func (s *Service) RegenerateRecoveryCode(session *Session, user *User) (string, Result, error) {
	if session == nil {
		return "", Fail(MsgNotAuthenticated), nil
	}
	if !user.EmailVerified {
		return "", Fail(MsgForbidden), nil
	}
	if user.Registered2FA() && !session.TwoFactorVerified {
		return "", Fail(MsgForbidden), nil
	}

	code, err := utils.GenerateRecoveryCode()
	if err != nil {
		return "", Result{}, err
	}
	encrypted, err := utils.EncryptAESGCM(code)
	if err != nil {
		return "", Result{}, err
	}
	if err := s.store.UpdateUserRecoveryCode(user.ID, encrypted); err != nil {
		return "", Result{}, err
	}
	return code, Result{}, nil
}

// ResetTwoFactorWithRecoveryCode consumes the recovery code to strip every
// registered second factor so the user can re-enrol. Rotation is a
// compare-and-swap on the stored code; losing the race to a concurrent
// reset reads as an invalid code, not an error.
func (s *Service) ResetTwoFactorWithRecoveryCode(session *Session, user *User, code string) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if !user.EmailVerified || !user.Registered2FA() || session.TwoFactorVerified {
		return Fail(MsgForbidden), nil
	}

	if !s.recoveryCodeBucket.Check(user.ID, 1) {
		return Fail(MsgTooManyRequests), nil
	}
	if code == "" {
		return Fail(MsgEnterCode), nil
	}
	if !s.recoveryCodeBucket.Consume(user.ID, 1) {
		return Fail(MsgTooManyRequests), nil
	}

	valid, err := s.consumeRecoveryCode(user.ID, code)
	if err != nil {
		return Result{}, err
	}
	if !valid {
		return Fail(MsgInvalidRecoveryCode), nil
	}

	s.recoveryCodeBucket.Reset(user.ID)
	return RedirectTo(RedirectTwoFactorSetup), nil
}

// consumeRecoveryCode compares the submitted code against the stored one
// and atomically rotates it. The conditional update is keyed on the exact
// ciphertext read here, so two concurrent resets with the same code can
// never both succeed.
func (s *Service) consumeRecoveryCode(userID uuid.UUID, code string) (bool, error) {
	encrypted, err := s.store.GetUserRecoveryCode(userID)
	if err != nil {
		return false, err
	}
	current, err := utils.DecryptAESGCM(encrypted)
	if err != nil {
		return false, fmt.Errorf("decrypt recovery code: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(current)) != 1 {
		return false, nil
	}

	next, err := utils.GenerateRecoveryCode()
	if err != nil {
		return false, err
	}
	nextEncrypted, err := utils.EncryptAESGCM(next)
	if err != nil {
		return false, err
	}
	return s.store.RotateRecoveryCode(userID, encrypted, nextEncrypted)
}
