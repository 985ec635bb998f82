// Package webauthn implements defensive parsing and verification of the
// binary WebAuthn structures: authenticator data, client data JSON,
// attestation objects, and COSE credential public keys. Only the "none"
// attestation format and the ES256/RS256 algorithms are supported.
package webauthn

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/fxamacker/cbor/v2"
)

var ErrInvalidData = errors.New("webauthn: invalid data")

const (
	flagUserPresent        = 1 << 0
	flagUserVerified       = 1 << 2
	flagAttestedCredential = 1 << 6
)

// AuthenticatorData is the parsed fixed-layout structure signed by the
// authenticator: rpIdHash || flags || signCount || attested credential data.
type AuthenticatorData struct {
	RelyingPartyIDHash [32]byte
	UserPresent        bool
	UserVerified       bool
	SignCount          uint32
	// Credential is non-nil only when the attested-credential-data flag is
	// set (registration ceremonies).
	Credential *AttestedCredential
}

type AttestedCredential struct {
	ID        []byte
	PublicKey *COSEPublicKey
}

// ParseAuthenticatorData decodes raw authenticator data. Every length is
// checked before the corresponding read; trailing extension bytes are
// tolerated after the credential key.
func ParseAuthenticatorData(data []byte) (*AuthenticatorData, error) {
	if len(data) < 37 {
		return nil, ErrInvalidData
	}

	parsed := &AuthenticatorData{}
	copy(parsed.RelyingPartyIDHash[:], data[:32])

	flags := data[32]
	parsed.UserPresent = flags&flagUserPresent != 0
	parsed.UserVerified = flags&flagUserVerified != 0
	parsed.SignCount = binary.BigEndian.Uint32(data[33:37])

	if flags&flagAttestedCredential == 0 {
		return parsed, nil
	}

	// Attested credential data: aaguid (16) || credIdLen (2) || credId || key.
	rest := data[37:]
	if len(rest) < 18 {
		return nil, ErrInvalidData
	}
	credentialIDLength := int(binary.BigEndian.Uint16(rest[16:18]))
	rest = rest[18:]
	if len(rest) < credentialIDLength {
		return nil, ErrInvalidData
	}

	credentialID := make([]byte, credentialIDLength)
	copy(credentialID, rest[:credentialIDLength])

	publicKey, err := parseCOSEPublicKey(rest[credentialIDLength:])
	if err != nil {
		return nil, ErrInvalidData
	}

	parsed.Credential = &AttestedCredential{ID: credentialID, PublicKey: publicKey}
	return parsed, nil
}

// VerifyRelyingPartyIDHash checks the embedded hash against the configured
// relying party host.
func (a *AuthenticatorData) VerifyRelyingPartyIDHash(host string) bool {
	expected := sha256.Sum256([]byte(host))
	return a.RelyingPartyIDHash == expected
}

// AttestationObject is the CBOR envelope sent during registration.
type AttestationObject struct {
	Format            string
	AuthenticatorData *AuthenticatorData
	RawAuthData       []byte
}

// AttestationFormatNone is the only attestation statement format accepted;
// no attestation trust chain is modeled.
const AttestationFormatNone = "none"

type rawAttestationObject struct {
	Format   string          `cbor:"fmt"`
	AttStmt  cbor.RawMessage `cbor:"attStmt"`
	AuthData []byte          `cbor:"authData"`
}

func ParseAttestationObject(data []byte) (*AttestationObject, error) {
	var raw rawAttestationObject
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, ErrInvalidData
	}
	if raw.Format == "" || raw.AuthData == nil {
		return nil, ErrInvalidData
	}

	authData, err := ParseAuthenticatorData(raw.AuthData)
	if err != nil {
		return nil, err
	}

	return &AttestationObject{
		Format:            raw.Format,
		AuthenticatorData: authData,
		RawAuthData:       raw.AuthData,
	}, nil
}

// parseCOSEPublicKey decodes the first CBOR value in data, ignoring any
// trailing extension bytes.
func parseCOSEPublicKey(data []byte) (*COSEPublicKey, error) {
	decoder := cbor.NewDecoder(bytes.NewReader(data))
	var raw rawCOSEKey
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	return &COSEPublicKey{raw: raw}, nil
}
