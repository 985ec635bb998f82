package auth

import "github.com/gatekey/backend/pkg/utils"

// UpdatePassword rewrites the password hash after re-proving the current
// password, invalidates every session, and re-mints the caller's session
// preserving its two-factor flag.
func (s *Service) UpdatePassword(session *Session, user *User, currentPassword, newPassword string) (*MintedSession, Result, error) {
	if session == nil {
		return nil, Fail(MsgNotAuthenticated), nil
	}
	if user.Registered2FA() && !session.TwoFactorVerified {
		return nil, Fail(MsgForbidden), nil
	}
	if !s.passwordUpdateBucket.Check(session.ID, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	if !strongPassword(newPassword) {
		return nil, Fail(MsgWeakPassword), nil
	}
	if !s.passwordUpdateBucket.Consume(session.ID, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}

	passwordHash, err := s.store.GetUserPasswordHash(user.ID)
	if err != nil {
		return nil, Result{}, err
	}
	if !utils.CheckPassword(currentPassword, passwordHash) {
		return nil, Fail(MsgIncorrectPassword), nil
	}

	s.passwordUpdateBucket.Reset(session.ID)
	if err := s.store.DeleteUserSessions(user.ID); err != nil {
		return nil, Result{}, err
	}

	newHash, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, Result{}, err
	}
	if err := s.store.UpdateUserPassword(user.ID, newHash); err != nil {
		return nil, Result{}, err
	}

	minted, err := s.CreateSession(user.ID, session.TwoFactorVerified)
	if err != nil {
		return nil, Result{}, err
	}
	return minted, Fail(MsgPasswordUpdated), nil
}
