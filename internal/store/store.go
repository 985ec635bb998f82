// Package store is the gorm-backed implementation of the storage contract
// consumed by the auth core. It maps between the persistence models and the
// flow-facing view types, resolving the derived second-factor flags at load
// time.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gatekey/backend/internal/auth"
	"github.com/gatekey/backend/internal/models"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ auth.Store = (*Store)(nil)

func (s *Store) userView(user *models.User) (*auth.User, error) {
	view := &auth.User{
		ID:            user.ID,
		Email:         user.Email,
		Username:      user.Username,
		EmailVerified: user.EmailVerified,
	}

	var totpCount int64
	if err := s.db.Model(&models.TOTPCredential{}).Where("user_id = ?", user.ID).Count(&totpCount).Error; err != nil {
		return nil, err
	}
	view.RegisteredTOTP = totpCount > 0

	rows := []struct {
		Kind models.CredentialKind
	}{}
	err := s.db.Model(&models.WebAuthnCredential{}).
		Select("DISTINCT kind").
		Where("user_id = ?", user.ID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		switch row.Kind {
		case models.CredentialKindPasskey:
			view.RegisteredPasskey = true
		case models.CredentialKindSecurityKey:
			view.RegisteredSecurityKey = true
		}
	}
	return view, nil
}

func (s *Store) CreateUser(email, username, passwordHash, encryptedRecoveryCode string) (*auth.User, error) {
	user := models.User{
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		RecoveryCode: encryptedRecoveryCode,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &auth.User{ID: user.ID, Email: user.Email, Username: user.Username}, nil
}

func (s *Store) GetUserByEmail(email string) (*auth.User, error) {
	var user models.User
	err := s.db.Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.userView(&user)
}

func (s *Store) GetUserByID(id uuid.UUID) (*auth.User, error) {
	var user models.User
	err := s.db.Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.userView(&user)
}

func (s *Store) EmailAvailable(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count == 0, nil
}

func (s *Store) GetUserPasswordHash(userID uuid.UUID) (string, error) {
	var user models.User
	if err := s.db.Select("password_hash").Where("id = ?", userID).First(&user).Error; err != nil {
		return "", err
	}
	return user.PasswordHash, nil
}

func (s *Store) UpdateUserPassword(userID uuid.UUID, passwordHash string) error {
	return s.db.Model(&models.User{}).Where("id = ?", userID).
		Update("password_hash", passwordHash).Error
}

func (s *Store) UpdateUserEmailAndSetVerified(userID uuid.UUID, email string) error {
	return s.db.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"email": email, "email_verified": true}).Error
}

func (s *Store) SetUserEmailVerifiedIfEmailMatches(userID uuid.UUID, email string) (bool, error) {
	result := s.db.Model(&models.User{}).
		Where("id = ? AND email = ?", userID, email).
		Update("email_verified", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) GetUserRecoveryCode(userID uuid.UUID) (string, error) {
	var user models.User
	if err := s.db.Select("recovery_code").Where("id = ?", userID).First(&user).Error; err != nil {
		return "", err
	}
	return user.RecoveryCode, nil
}

func (s *Store) UpdateUserRecoveryCode(userID uuid.UUID, encryptedCode string) error {
	return s.db.Model(&models.User{}).Where("id = ?", userID).
		Update("recovery_code", encryptedCode).Error
}

// errStaleRecoveryCode aborts the rotation transaction when the conditional
// update matched no row.
var errStaleRecoveryCode = errors.New("store: recovery code changed concurrently")

// RotateRecoveryCode performs the compare-and-swap rotation. The WHERE
// clause on the old ciphertext is what makes two concurrent resets with the
// same code mutually exclusive; the loser rolls back cleanly.
func (s *Store) RotateRecoveryCode(userID uuid.UUID, oldEncrypted, newEncrypted string) (bool, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).
			Where("id = ? AND recovery_code = ?", userID, oldEncrypted).
			Update("recovery_code", newEncrypted)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errStaleRecoveryCode
		}

		if err := tx.Where("user_id = ?", userID).Delete(&models.TOTPCredential{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.WebAuthnCredential{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Session{}).Where("user_id = ?", userID).
			Update("two_factor_verified", false).Error
	})
	if errors.Is(err, errStaleRecoveryCode) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rotate recovery code: %w", err)
	}
	return true, nil
}

func (s *Store) CreateSession(session *auth.Session) error {
	row := models.Session{
		ID:                session.ID,
		UserID:            session.UserID,
		ExpiresAt:         session.ExpiresAt,
		TwoFactorVerified: session.TwoFactorVerified,
	}
	return s.db.Create(&row).Error
}

func (s *Store) GetSession(id string) (*auth.Session, *auth.User, error) {
	var row models.Session
	err := s.db.Preload("User").Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	user, err := s.userView(&row.User)
	if err != nil {
		return nil, nil, err
	}
	session := &auth.Session{
		ID:                row.ID,
		UserID:            row.UserID,
		ExpiresAt:         row.ExpiresAt,
		TwoFactorVerified: row.TwoFactorVerified,
	}
	return session, user, nil
}

func (s *Store) UpdateSessionExpiry(id string, expiresAt time.Time) error {
	return s.db.Model(&models.Session{}).Where("id = ?", id).
		Update("expires_at", expiresAt).Error
}

func (s *Store) SetSessionTwoFactorVerified(id string) error {
	return s.db.Model(&models.Session{}).Where("id = ?", id).
		Update("two_factor_verified", true).Error
}

func (s *Store) DeleteSession(id string) error {
	return s.db.Where("id = ?", id).Delete(&models.Session{}).Error
}

func (s *Store) DeleteUserSessions(userID uuid.UUID) error {
	return s.db.Where("user_id = ?", userID).Delete(&models.Session{}).Error
}

func (s *Store) CreatePasswordResetSession(session *auth.PasswordResetSession) error {
	row := models.PasswordResetSession{
		ID:                session.ID,
		UserID:            session.UserID,
		Email:             session.Email,
		Code:              session.Code,
		ExpiresAt:         session.ExpiresAt,
		EmailVerified:     session.EmailVerified,
		TwoFactorVerified: session.TwoFactorVerified,
	}
	return s.db.Create(&row).Error
}

func (s *Store) GetPasswordResetSession(id string) (*auth.PasswordResetSession, *auth.User, error) {
	var row models.PasswordResetSession
	err := s.db.Preload("User").Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	user, err := s.userView(&row.User)
	if err != nil {
		return nil, nil, err
	}
	session := &auth.PasswordResetSession{
		ID:                row.ID,
		UserID:            row.UserID,
		Email:             row.Email,
		Code:              row.Code,
		ExpiresAt:         row.ExpiresAt,
		EmailVerified:     row.EmailVerified,
		TwoFactorVerified: row.TwoFactorVerified,
	}
	return session, user, nil
}

func (s *Store) SetPasswordResetSessionEmailVerified(id string) error {
	return s.db.Model(&models.PasswordResetSession{}).Where("id = ?", id).
		Update("email_verified", true).Error
}

func (s *Store) SetPasswordResetSessionTwoFactorVerified(id string) error {
	return s.db.Model(&models.PasswordResetSession{}).Where("id = ?", id).
		Update("two_factor_verified", true).Error
}

func (s *Store) DeletePasswordResetSession(id string) error {
	return s.db.Where("id = ?", id).Delete(&models.PasswordResetSession{}).Error
}

func (s *Store) DeleteUserPasswordResetSessions(userID uuid.UUID) error {
	return s.db.Where("user_id = ?", userID).Delete(&models.PasswordResetSession{}).Error
}

func (s *Store) CreateEmailVerificationRequest(request *auth.EmailVerificationRequest) error {
	row := models.EmailVerificationRequest{
		ID:        request.ID,
		UserID:    request.UserID,
		Email:     request.Email,
		Code:      request.Code,
		ExpiresAt: request.ExpiresAt,
	}
	return s.db.Create(&row).Error
}

func (s *Store) GetEmailVerificationRequest(userID uuid.UUID, id string) (*auth.EmailVerificationRequest, error) {
	var row models.EmailVerificationRequest
	err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &auth.EmailVerificationRequest{
		ID:        row.ID,
		UserID:    row.UserID,
		Email:     row.Email,
		Code:      row.Code,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

func (s *Store) DeleteUserEmailVerificationRequests(userID uuid.UUID) error {
	return s.db.Where("user_id = ?", userID).Delete(&models.EmailVerificationRequest{}).Error
}

func (s *Store) GetTOTPKey(userID uuid.UUID) (string, error) {
	var row models.TOTPCredential
	err := s.db.Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Key, nil
}

// ReplaceTOTPKey swaps the key wholesale; delete plus insert in one
// transaction keeps the unique user index happy.
func (s *Store) ReplaceTOTPKey(userID uuid.UUID, encryptedKey string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.TOTPCredential{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.TOTPCredential{UserID: userID, Key: encryptedKey}).Error
	})
}

func (s *Store) DeleteTOTPKey(userID uuid.UUID) error {
	return s.db.Where("user_id = ?", userID).Delete(&models.TOTPCredential{}).Error
}

func credentialView(row *models.WebAuthnCredential) *auth.WebAuthnCredential {
	return &auth.WebAuthnCredential{
		ID:        row.CredentialID,
		UserID:    row.UserID,
		Kind:      auth.CredentialKind(row.Kind),
		Name:      row.Name,
		Algorithm: row.Algorithm,
		PublicKey: row.PublicKey,
	}
}

func (s *Store) CreateWebAuthnCredential(credential *auth.WebAuthnCredential) error {
	row := models.WebAuthnCredential{
		CredentialID: credential.ID,
		UserID:       credential.UserID,
		Kind:         models.CredentialKind(credential.Kind),
		Name:         credential.Name,
		Algorithm:    credential.Algorithm,
		PublicKey:    credential.PublicKey,
	}
	err := s.db.Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return auth.ErrDuplicateCredential
	}
	return err
}

func (s *Store) GetWebAuthnCredential(credentialID []byte, kind auth.CredentialKind) (*auth.WebAuthnCredential, error) {
	var row models.WebAuthnCredential
	err := s.db.Where("credential_id = ? AND kind = ?", credentialID, string(kind)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return credentialView(&row), nil
}

func (s *Store) GetUserWebAuthnCredential(userID uuid.UUID, credentialID []byte, kind auth.CredentialKind) (*auth.WebAuthnCredential, error) {
	var row models.WebAuthnCredential
	err := s.db.Where("credential_id = ? AND user_id = ? AND kind = ?", credentialID, userID, string(kind)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return credentialView(&row), nil
}

func (s *Store) GetUserWebAuthnCredentials(userID uuid.UUID, kind auth.CredentialKind) ([]auth.WebAuthnCredential, error) {
	var rows []models.WebAuthnCredential
	err := s.db.Where("user_id = ? AND kind = ?", userID, string(kind)).
		Order("created_at ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	credentials := make([]auth.WebAuthnCredential, 0, len(rows))
	for i := range rows {
		credentials = append(credentials, *credentialView(&rows[i]))
	}
	return credentials, nil
}

func (s *Store) CountWebAuthnCredentials(userID uuid.UUID, kind auth.CredentialKind) (int, error) {
	var count int64
	err := s.db.Model(&models.WebAuthnCredential{}).
		Where("user_id = ? AND kind = ?", userID, string(kind)).Count(&count).Error
	return int(count), err
}

func (s *Store) DeleteWebAuthnCredential(userID uuid.UUID, credentialID []byte, kind auth.CredentialKind) (bool, error) {
	result := s.db.Where("credential_id = ? AND user_id = ? AND kind = ?", credentialID, userID, string(kind)).
		Delete(&models.WebAuthnCredential{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
