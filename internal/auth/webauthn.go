package auth

import (
	"errors"
	"fmt"

	"github.com/gatekey/backend/internal/webauthn"
)

// Assertion is the raw material of an authentication ceremony as delivered
// by the client, all fields binary.
type Assertion struct {
	CredentialID      []byte
	AuthenticatorData []byte
	ClientDataJSON    []byte
	Signature         []byte
}

// Attestation is the raw material of a registration ceremony.
type Attestation struct {
	Name              string
	AttestationObject []byte
	ClientDataJSON    []byte
}

// RegisterPasskey runs the passkey registration ceremony. Passkeys act as
// both factors at sign-in, so user verification is required here.
func (s *Service) RegisterPasskey(session *Session, user *User, in Attestation) (Result, error) {
	return s.registerCredential(session, user, in, KindPasskey, true)
}

// RegisterSecurityKey runs the security-key registration ceremony. A plain
// presence check suffices since the key is only ever a second factor.
func (s *Service) RegisterSecurityKey(session *Session, user *User, in Attestation) (Result, error) {
	return s.registerCredential(session, user, in, KindSecurityKey, false)
}

// registerCredential validates the attestation and stores the credential.
// The ordering of the guards is load-bearing: structural parsing first,
// relying-party and presence checks before the challenge is consumed,
// challenge consumption before any expensive key work, and the cap and
// uniqueness checks only once the ceremony itself is known to be valid.
func (s *Service) registerCredential(session *Session, user *User, in Attestation, kind CredentialKind, requireUserVerified bool) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if !user.EmailVerified {
		return Fail(MsgForbidden), nil
	}
	if user.Registered2FA() && !session.TwoFactorVerified {
		return Fail(MsgForbidden), nil
	}
	if in.Name == "" {
		return Fail(MsgInvalidFields), nil
	}

	object, err := webauthn.ParseAttestationObject(in.AttestationObject)
	if err != nil {
		return Fail(MsgInvalidData), nil
	}
	if object.Format != webauthn.AttestationFormatNone {
		return Fail(MsgInvalidData), nil
	}

	data := object.AuthenticatorData
	if !data.VerifyRelyingPartyIDHash(s.rpHost) {
		return Fail(MsgInvalidData), nil
	}
	if !data.UserPresent {
		return Fail(MsgInvalidData), nil
	}
	if requireUserVerified && !data.UserVerified {
		return Fail(MsgInvalidData), nil
	}
	if data.Credential == nil {
		return Fail(MsgInvalidData), nil
	}

	clientData, err := webauthn.ParseClientDataJSON(in.ClientDataJSON)
	if err != nil {
		return Fail(MsgInvalidData), nil
	}
	if clientData.Type != webauthn.CeremonyCreate {
		return Fail(MsgInvalidData), nil
	}
	if !s.challenges.Consume(clientData.Challenge) {
		return Fail(MsgInvalidData), nil
	}
	if clientData.Origin != s.rpOrigin || clientData.IsCrossOrigin() {
		return Fail(MsgInvalidData), nil
	}

	var publicKey []byte
	algorithm := data.Credential.PublicKey.Algorithm()
	switch algorithm {
	case webauthn.AlgorithmES256:
		publicKey, err = data.Credential.PublicKey.ECDSAP256()
	case webauthn.AlgorithmRS256:
		publicKey, err = data.Credential.PublicKey.RSA()
	default:
		return Fail(MsgUnsupportedAlgorithm), nil
	}
	if err != nil {
		return Fail(MsgInvalidData), nil
	}

	count, err := s.store.CountWebAuthnCredentials(user.ID, kind)
	if err != nil {
		return Result{}, err
	}
	if count >= maxCredentialsPerKind {
		return Fail(MsgTooManyCredentials), nil
	}

	credential := WebAuthnCredential{
		ID:        data.Credential.ID,
		UserID:    user.ID,
		Kind:      kind,
		Name:      in.Name,
		Algorithm: algorithm,
		PublicKey: publicKey,
	}
	if err := s.store.CreateWebAuthnCredential(&credential); err != nil {
		if errors.Is(err, ErrDuplicateCredential) {
			return Fail(MsgInvalidData), nil
		}
		return Result{}, fmt.Errorf("create webauthn credential: %w", err)
	}

	if !session.TwoFactorVerified {
		if err := s.store.SetSessionTwoFactorVerified(session.ID); err != nil {
			return Result{}, err
		}
	}

	// The first second factor reveals the recovery code once.
	if !user.Registered2FA() {
		return RedirectTo(RedirectRecoveryCode), nil
	}
	return RedirectTo(RedirectHome), nil
}

// VerifyPasskey upgrades the session to two-factor verified from a passkey
// assertion. User verification is not re-required for step-up; the password
// already proved the first factor.
func (s *Service) VerifyPasskey(session *Session, user *User, in Assertion) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if !user.EmailVerified || !user.RegisteredPasskey || session.TwoFactorVerified {
		return Fail(MsgForbidden), nil
	}

	res, ok, err := s.verifyUserAssertion(user, in, KindPasskey)
	if err != nil || !ok {
		return res, err
	}
	if err := s.store.SetSessionTwoFactorVerified(session.ID); err != nil {
		return Result{}, err
	}
	return RedirectTo(RedirectHome), nil
}

// VerifySecurityKey is the security-key analogue of VerifyPasskey.
func (s *Service) VerifySecurityKey(session *Session, user *User, in Assertion) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if !user.EmailVerified || !user.RegisteredSecurityKey || session.TwoFactorVerified {
		return Fail(MsgForbidden), nil
	}

	res, ok, err := s.verifyUserAssertion(user, in, KindSecurityKey)
	if err != nil || !ok {
		return res, err
	}
	if err := s.store.SetSessionTwoFactorVerified(session.ID); err != nil {
		return Result{}, err
	}
	return RedirectTo(RedirectHome), nil
}

// verifyUserAssertion validates an assertion against a credential scoped to
// the acting user. The failure Result is meaningful only when ok is false
// and err is nil.
func (s *Service) verifyUserAssertion(user *User, in Assertion, kind CredentialKind) (Result, bool, error) {
	data, err := webauthn.ParseAuthenticatorData(in.AuthenticatorData)
	if err != nil {
		return Fail(MsgInvalidData), false, nil
	}
	if !data.VerifyRelyingPartyIDHash(s.rpHost) {
		return Fail(MsgInvalidData), false, nil
	}
	if !data.UserPresent {
		return Fail(MsgInvalidData), false, nil
	}

	clientData, err := webauthn.ParseClientDataJSON(in.ClientDataJSON)
	if err != nil {
		return Fail(MsgInvalidData), false, nil
	}
	if clientData.Type != webauthn.CeremonyGet {
		return Fail(MsgInvalidData), false, nil
	}
	if !s.challenges.Consume(clientData.Challenge) {
		return Fail(MsgInvalidData), false, nil
	}
	if clientData.Origin != s.rpOrigin || clientData.IsCrossOrigin() {
		return Fail(MsgInvalidData), false, nil
	}

	credential, err := s.store.GetUserWebAuthnCredential(user.ID, in.CredentialID, kind)
	if err != nil {
		return Result{}, false, err
	}
	// Deliberately indistinguishable from a bad signature so an assertion
	// cannot be used to test which credential ids exist.
	if credential == nil {
		return Fail(MsgInvalidData), false, nil
	}

	valid, err := webauthn.VerifyAssertionSignature(credential.Algorithm, credential.PublicKey, in.AuthenticatorData, in.ClientDataJSON, in.Signature)
	if err != nil {
		return Result{}, false, fmt.Errorf("verify assertion: %w", err)
	}
	if !valid {
		return Fail(MsgInvalidData), false, nil
	}
	return Result{}, true, nil
}

// ListCredentials returns the user's credentials of one class for the
// settings page.
func (s *Service) ListCredentials(user *User, kind CredentialKind) ([]WebAuthnCredential, error) {
	return s.store.GetUserWebAuthnCredentials(user.ID, kind)
}

// DeletePasskey removes one of the owner's passkeys.
func (s *Service) DeletePasskey(session *Session, user *User, credentialID []byte) (Result, error) {
	return s.deleteCredential(session, user, credentialID, KindPasskey)
}

// DeleteSecurityKey removes one of the owner's security keys.
func (s *Service) DeleteSecurityKey(session *Session, user *User, credentialID []byte) (Result, error) {
	return s.deleteCredential(session, user, credentialID, KindSecurityKey)
}

func (s *Service) deleteCredential(session *Session, user *User, credentialID []byte, kind CredentialKind) (Result, error) {
	if session == nil {
		return Fail(MsgNotAuthenticated), nil
	}
	if !user.EmailVerified {
		return Fail(MsgForbidden), nil
	}
	if user.Registered2FA() && !session.TwoFactorVerified {
		return Fail(MsgForbidden), nil
	}
	if len(credentialID) == 0 {
		return Fail(MsgInvalidFields), nil
	}

	deleted, err := s.store.DeleteWebAuthnCredential(user.ID, credentialID, kind)
	if err != nil {
		return Result{}, err
	}
	if !deleted {
		return Fail(MsgInvalidCredential), nil
	}
	return Fail(MsgCredentialRemoved), nil
}
