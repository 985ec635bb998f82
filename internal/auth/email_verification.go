package auth

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/gatekey/backend/pkg/utils"
)

// createEmailVerificationRequest supersedes any prior request for the user
// and issues a fresh code with a 10 minute expiry.
func (s *Service) createEmailVerificationRequest(userID uuid.UUID, email string) (*EmailVerificationRequest, error) {
	if err := s.store.DeleteUserEmailVerificationRequests(userID); err != nil {
		return nil, err
	}

	idBytes := make([]byte, 20)
	if _, err := io.ReadFull(rand.Reader, idBytes); err != nil {
		return nil, err
	}
	code, err := utils.GenerateNumericCode(verificationCodeDigits)
	if err != nil {
		return nil, err
	}

	request := EmailVerificationRequest{
		ID:        tokenEncoding.EncodeToString(idBytes),
		UserID:    userID,
		Email:     email,
		Code:      code,
		ExpiresAt: s.now().Add(verificationRequestLifetime),
	}
	if err := s.store.CreateEmailVerificationRequest(&request); err != nil {
		return nil, fmt.Errorf("create email verification request: %w", err)
	}
	return &request, nil
}

// GetEmailVerificationRequest resolves the user's pending request by id,
// returning nil when it does not exist or belongs to another user.
func (s *Service) GetEmailVerificationRequest(userID uuid.UUID, requestID string) (*EmailVerificationRequest, error) {
	if requestID == "" {
		return nil, nil
	}
	return s.store.GetEmailVerificationRequest(userID, requestID)
}

// VerifyEmail checks the submitted code against the user's pending request.
// An expired code is transparently replaced and resent, reported as an
// informational message. On success the account email is applied and
// verified, and any in-flight password reset sessions are invalidated since
// they were created against possibly unverified state. A non-nil request in
// the return carries the replacement the client must track.
func (s *Service) VerifyEmail(session *Session, user *User, requestID, code string) (*EmailVerificationRequest, Result, error) {
	if session == nil {
		return nil, Fail(MsgNotAuthenticated), nil
	}
	if user.Registered2FA() && !session.TwoFactorVerified {
		return nil, Fail(MsgForbidden), nil
	}
	if !s.emailVerificationBucket.Check(user.ID, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	request, err := s.store.GetEmailVerificationRequest(user.ID, requestID)
	if err != nil {
		return nil, Result{}, err
	}
	if request == nil {
		return nil, Fail(MsgNotAuthenticated), nil
	}

	if code == "" {
		return nil, Fail(MsgEnterCode), nil
	}
	if !s.emailVerificationBucket.Consume(user.ID, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	if !s.now().Before(request.ExpiresAt) {
		fresh, err := s.createEmailVerificationRequest(request.UserID, request.Email)
		if err != nil {
			return nil, Result{}, err
		}
		if err := s.mailer.SendVerificationCode(fresh.Email, fresh.Code); err != nil {
			return nil, Result{}, err
		}
		return fresh, Fail(MsgVerificationExpired), nil
	}
	if request.Code != code {
		return nil, Fail(MsgIncorrectCode), nil
	}

	if err := s.store.DeleteUserEmailVerificationRequests(user.ID); err != nil {
		return nil, Result{}, err
	}
	if err := s.store.DeleteUserPasswordResetSessions(user.ID); err != nil {
		return nil, Result{}, err
	}
	if err := s.store.UpdateUserEmailAndSetVerified(user.ID, request.Email); err != nil {
		return nil, Result{}, err
	}

	if !user.Registered2FA() {
		return nil, RedirectTo(RedirectTwoFactorSetup), nil
	}
	return nil, RedirectTo(RedirectHome), nil
}

// ResendVerificationCode issues a fresh code for the pending request, or
// for the account email when no request is live and the account is still
// unverified.
func (s *Service) ResendVerificationCode(session *Session, user *User, requestID string) (*EmailVerificationRequest, Result, error) {
	if session == nil {
		return nil, Fail(MsgNotAuthenticated), nil
	}
	if user.Registered2FA() && !session.TwoFactorVerified {
		return nil, Fail(MsgForbidden), nil
	}
	if !s.sendEmailBucket.Check(user.ID, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	request, err := s.store.GetEmailVerificationRequest(user.ID, requestID)
	if err != nil {
		return nil, Result{}, err
	}

	email := user.Email
	if request != nil {
		email = request.Email
	} else if user.EmailVerified {
		return nil, Fail(MsgForbidden), nil
	}

	if !s.sendEmailBucket.Consume(user.ID, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	fresh, err := s.createEmailVerificationRequest(user.ID, email)
	if err != nil {
		return nil, Result{}, err
	}
	if err := s.mailer.SendVerificationCode(fresh.Email, fresh.Code); err != nil {
		return nil, Result{}, err
	}
	return fresh, Fail(MsgNewCodeSent), nil
}

// UpdateEmail starts an email change by issuing a verification request for
// the new address. The account email only changes once the code is
// confirmed.
func (s *Service) UpdateEmail(session *Session, user *User, email string) (*EmailVerificationRequest, Result, error) {
	if session == nil {
		return nil, Fail(MsgNotAuthenticated), nil
	}
	if user.Registered2FA() && !session.TwoFactorVerified {
		return nil, Fail(MsgForbidden), nil
	}
	if !s.sendEmailBucket.Check(user.ID, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	if email == "" {
		return nil, Fail(MsgInvalidFields), nil
	}
	if !validEmail(email) {
		return nil, Fail(MsgInvalidEmail), nil
	}
	available, err := s.store.EmailAvailable(email)
	if err != nil {
		return nil, Result{}, err
	}
	if !available {
		return nil, Fail(MsgEmailAlreadyUsed), nil
	}

	if !s.sendEmailBucket.Consume(user.ID, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	request, err := s.createEmailVerificationRequest(user.ID, email)
	if err != nil {
		return nil, Result{}, err
	}
	if err := s.mailer.SendVerificationCode(request.Email, request.Code); err != nil {
		return nil, Result{}, err
	}
	return request, RedirectTo(RedirectVerifyEmail), nil
}
