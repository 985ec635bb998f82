package auth

import (
	"fmt"

	"github.com/gatekey/backend/pkg/utils"
)

// MintedResetSession pairs a password-reset session with its raw token.
type MintedResetSession struct {
	Token   string
	Session PasswordResetSession
}

// ForgotPassword starts the recovery flow: any prior reset session for the
// user is invalidated, a fresh one is created with a 10 minute expiry, and
// its code is dispatched to the account email.
func (s *Service) ForgotPassword(email, clientIP string) (*MintedResetSession, Result, error) {
	if clientIP != "" && !s.forgotPasswordIPBucket.Check(clientIP, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}
	if !validEmail(email) {
		return nil, Fail(MsgInvalidEmail), nil
	}

	user, err := s.store.GetUserByEmail(email)
	if err != nil {
		return nil, Result{}, err
	}
	if user == nil {
		return nil, Fail(MsgAccountDoesNotExist), nil
	}

	if clientIP != "" && !s.forgotPasswordIPBucket.Consume(clientIP, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}
	if !s.forgotPasswordUserBucket.Consume(user.ID, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	if err := s.store.DeleteUserPasswordResetSessions(user.ID); err != nil {
		return nil, Result{}, err
	}

	token, err := GenerateSessionToken()
	if err != nil {
		return nil, Result{}, err
	}
	code, err := utils.GenerateNumericCode(verificationCodeDigits)
	if err != nil {
		return nil, Result{}, err
	}

	session := PasswordResetSession{
		ID:        sessionIDFromToken(token),
		UserID:    user.ID,
		Email:     user.Email,
		Code:      code,
		ExpiresAt: s.now().Add(resetSessionLifetime),
	}
	if err := s.store.CreatePasswordResetSession(&session); err != nil {
		return nil, Result{}, fmt.Errorf("create password reset session: %w", err)
	}

	if err := s.mailer.SendPasswordResetCode(session.Email, session.Code); err != nil {
		return nil, Result{}, err
	}
	minted := &MintedResetSession{Token: token, Session: session}
	return minted, RedirectTo(RedirectResetVerifyEmail), nil
}

// ValidatePasswordResetSessionToken resolves a reset-session bearer token.
// The 10 minute expiry is hard; there is no renewal.
func (s *Service) ValidatePasswordResetSessionToken(token string) (*PasswordResetSession, *User, error) {
	session, user, err := s.store.GetPasswordResetSession(sessionIDFromToken(token))
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, nil
	}
	if !s.now().Before(session.ExpiresAt) {
		if err := s.store.DeletePasswordResetSession(session.ID); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}
	return session, user, nil
}

// VerifyPasswordResetEmail checks the emailed code. The account's global
// email-verified flag only flips when the session's target email still
// matches the account, so a racing email change forces a restart instead
// of verifying a stale address.
func (s *Service) VerifyPasswordResetEmail(session *PasswordResetSession, user *User, code string) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if session.EmailVerified {
		return Fail(MsgForbidden), nil
	}
	if !s.resetEmailBucket.Check(session.UserID, 1) {
		return Fail(MsgTooManyRequests), nil
	}
	if code == "" {
		return Fail(MsgEnterCode), nil
	}
	if !s.resetEmailBucket.Consume(session.UserID, 1) {
		return Fail(MsgTooManyRequests), nil
	}
	if code != session.Code {
		return Fail(MsgIncorrectCode), nil
	}

	s.resetEmailBucket.Reset(session.UserID)
	if err := s.store.SetPasswordResetSessionEmailVerified(session.ID); err != nil {
		return Result{}, err
	}

	matches, err := s.store.SetUserEmailVerifiedIfEmailMatches(session.UserID, session.Email)
	if err != nil {
		return Result{}, err
	}
	if !matches {
		return Fail(MsgRestartProcess), nil
	}

	if user.Registered2FA() {
		return RedirectTo(s.PasswordResetTwoFactorRedirect(user)), nil
	}
	return RedirectTo(RedirectResetPassword), nil
}

// VerifyResetTOTP is the recovery-flow analogue of VerifyTOTP, writing the
// reset session's two-factor flag.
func (s *Service) VerifyResetTOTP(session *PasswordResetSession, user *User, code string) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if !session.EmailVerified || !user.RegisteredTOTP || session.TwoFactorVerified {
		return Fail(MsgForbidden), nil
	}
	if !s.totpBucket.Check(session.UserID, 1) {
		return Fail(MsgTooManyRequests), nil
	}
	if code == "" {
		return Fail(MsgEnterCode), nil
	}
	if !s.totpBucket.Consume(session.UserID, 1) {
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

	s.totpBucket.Reset(session.UserID)
	if err := s.store.SetPasswordResetSessionTwoFactorVerified(session.ID); err != nil {
		return Result{}, err
	}
	return RedirectTo(RedirectResetPassword), nil
}

// VerifyResetPasskey verifies a passkey assertion for the recovery flow.
func (s *Service) VerifyResetPasskey(session *PasswordResetSession, user *User, in Assertion) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if !session.EmailVerified || !user.RegisteredPasskey || session.TwoFactorVerified {
		return Fail(MsgForbidden), nil
	}

	res, ok, err := s.verifyUserAssertion(user, in, KindPasskey)
	if err != nil || !ok {
		return res, err
	}
	if err := s.store.SetPasswordResetSessionTwoFactorVerified(session.ID); err != nil {
		return Result{}, err
	}
	return RedirectTo(RedirectResetPassword), nil
}

// VerifyResetSecurityKey verifies a security-key assertion for the recovery
// flow.
func (s *Service) VerifyResetSecurityKey(session *PasswordResetSession, user *User, in Assertion) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if !session.EmailVerified || !user.RegisteredSecurityKey || session.TwoFactorVerified {
		return Fail(MsgForbidden), nil
	}

	res, ok, err := s.verifyUserAssertion(user, in, KindSecurityKey)
	if err != nil || !ok {
		return res, err
	}
	if err := s.store.SetPasswordResetSessionTwoFactorVerified(session.ID); err != nil {
		return Result{}, err
	}
	return RedirectTo(RedirectResetPassword), nil
}

// VerifyResetRecoveryCode consumes the recovery code inside the recovery
// flow. It strips all second factors, so the subsequent password reset
// proceeds without a two-factor step.
func (s *Service) VerifyResetRecoveryCode(session *PasswordResetSession, user *User, code string) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if !session.EmailVerified || !user.Registered2FA() || session.TwoFactorVerified {
		return Fail(MsgForbidden), nil
	}

	if !s.recoveryCodeBucket.Check(session.UserID, 1) {
		return Fail(MsgTooManyRequests), nil
	}
	if code == "" {
		return Fail(MsgEnterCode), nil
	}
	if !s.recoveryCodeBucket.Consume(session.UserID, 1) {
		return Fail(MsgTooManyRequests), nil
	}

	valid, err := s.consumeRecoveryCode(session.UserID, code)
	if err != nil {
		return Result{}, err
	}
	if !valid {
		return Fail(MsgInvalidCode), nil
	}

	s.recoveryCodeBucket.Reset(session.UserID)
	return RedirectTo(RedirectResetPassword), nil
}

// ResetPassword completes the recovery flow: it requires a verified email
// and, when the account still has a second factor, a verified two-factor
// step. All reset and standard sessions die; the fresh session inherits the
// reset session's two-factor status.
func (s *Service) ResetPassword(session *PasswordResetSession, user *User, password string) (*MintedSession, Result, error) {
	if session == nil {
		return nil, Fail(MsgNotAuthenticated), nil
	}
	if !session.EmailVerified {
		return nil, Fail(MsgForbidden), nil
	}
	if user.Registered2FA() && !session.TwoFactorVerified {
		return nil, Fail(MsgForbidden), nil
	}
	if !strongPassword(password) {
		return nil, Fail(MsgWeakPassword), nil
	}

	if err := s.store.DeleteUserPasswordResetSessions(session.UserID); err != nil {
		return nil, Result{}, err
	}
	if err := s.store.DeleteUserSessions(session.UserID); err != nil {
		return nil, Result{}, err
	}

	passwordHash, err := utils.HashPassword(password)
	if err != nil {
		return nil, Result{}, err
	}
	if err := s.store.UpdateUserPassword(session.UserID, passwordHash); err != nil {
		return nil, Result{}, err
	}

	minted, err := s.CreateSession(user.ID, session.TwoFactorVerified)
	if err != nil {
		return nil, Result{}, err
	}
	return minted, RedirectTo(RedirectHome), nil
}
