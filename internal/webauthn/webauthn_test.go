package webauthn

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func buildAuthData(t *testing.T, rpID string, flags byte, signCount uint32, credentialID []byte, coseKey []byte) []byte {
	t.Helper()

	rpIDHash := sha256.Sum256([]byte(rpID))
	data := make([]byte, 0, 64)
	data = append(data, rpIDHash[:]...)
	data = append(data, flags)
	data = binary.BigEndian.AppendUint32(data, signCount)

	if flags&flagAttestedCredential != 0 {
		data = append(data, make([]byte, 16)...) // aaguid
		data = binary.BigEndian.AppendUint16(data, uint16(len(credentialID)))
		data = append(data, credentialID...)
		data = append(data, coseKey...)
	}
	return data
}

func marshalES256Key(t *testing.T, key *ecdsa.PublicKey) []byte {
	t.Helper()

	encoded, err := cbor.Marshal(map[int]interface{}{
		1:  2,  // kty EC2
		3:  -7, // alg ES256
		-1: 1,  // crv P-256
		-2: key.X.FillBytes(make([]byte, 32)),
		-3: key.Y.FillBytes(make([]byte, 32)),
	})
	if err != nil {
		t.Fatalf("marshal cose key: %v", err)
	}
	return encoded
}

func TestParseAuthenticatorData(t *testing.T) {
	t.Run("without attested credential", func(t *testing.T) {
		raw := buildAuthData(t, "example.com", flagUserPresent|flagUserVerified, 7, nil, nil)

		parsed, err := ParseAuthenticatorData(raw)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if !parsed.UserPresent || !parsed.UserVerified {
			t.Errorf("flags not decoded: %+v", parsed)
		}
		if parsed.SignCount != 7 {
			t.Errorf("sign count = %d, want 7", parsed.SignCount)
		}
		if parsed.Credential != nil {
			t.Error("credential should be nil without the AT flag")
		}
		if !parsed.VerifyRelyingPartyIDHash("example.com") {
			t.Error("rpIdHash should match example.com")
		}
		if parsed.VerifyRelyingPartyIDHash("evil.example.com") {
			t.Error("rpIdHash matched the wrong host")
		}
	})

	t.Run("with attested credential", func(t *testing.T) {
		private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		credentialID := []byte{0xde, 0xad, 0xbe, 0xef}
		raw := buildAuthData(t, "example.com", flagUserPresent|flagAttestedCredential, 0, credentialID, marshalES256Key(t, &private.PublicKey))

		parsed, err := ParseAuthenticatorData(raw)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if parsed.Credential == nil {
			t.Fatal("credential missing")
		}
		if !bytes.Equal(parsed.Credential.ID, credentialID) {
			t.Errorf("credential id = %x", parsed.Credential.ID)
		}
		if got := parsed.Credential.PublicKey.Algorithm(); got != AlgorithmES256 {
			t.Errorf("algorithm = %d, want %d", got, AlgorithmES256)
		}

		sec1, err := parsed.Credential.PublicKey.ECDSAP256()
		if err != nil {
			t.Fatalf("ecdsa encode: %v", err)
		}
		want := append([]byte{0x04}, private.PublicKey.X.FillBytes(make([]byte, 32))...)
		want = append(want, private.PublicKey.Y.FillBytes(make([]byte, 32))...)
		if !bytes.Equal(sec1, want) {
			t.Error("sec1 encoding mismatch")
		}
	})

	t.Run("truncated input", func(t *testing.T) {
		cases := [][]byte{
			nil,
			make([]byte, 36),
			buildAuthData(t, "example.com", flagAttestedCredential, 0, nil, nil)[:40],
		}
		for _, raw := range cases {
			if _, err := ParseAuthenticatorData(raw); err == nil {
				t.Errorf("parse of %d bytes should fail", len(raw))
			}
		}
	})

	t.Run("credential id length past end", func(t *testing.T) {
		raw := buildAuthData(t, "example.com", flagAttestedCredential, 0, []byte{1, 2, 3}, []byte{0xa0})
		// Inflate the declared credential id length beyond the buffer.
		binary.BigEndian.PutUint16(raw[53:55], 0xffff)
		if _, err := ParseAuthenticatorData(raw); err == nil {
			t.Error("oversized credential id length should fail")
		}
	})
}

func TestParseAttestationObject(t *testing.T) {
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	authData := buildAuthData(t, "example.com", flagUserPresent|flagAttestedCredential, 0, []byte{1}, marshalES256Key(t, &private.PublicKey))

	encoded, err := cbor.Marshal(map[string]interface{}{
		"fmt":      "none",
		"attStmt":  map[string]interface{}{},
		"authData": authData,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	object, err := ParseAttestationObject(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if object.Format != AttestationFormatNone {
		t.Errorf("format = %q", object.Format)
	}
	if !bytes.Equal(object.RawAuthData, authData) {
		t.Error("raw auth data not preserved")
	}
	if object.AuthenticatorData.Credential == nil {
		t.Error("credential missing from parsed auth data")
	}

	if _, err := ParseAttestationObject([]byte("not cbor")); err == nil {
		t.Error("garbage input should fail")
	}
}

func TestParseClientDataJSON(t *testing.T) {
	challenge := []byte("twenty-byte-challenge")
	encoded := base64.RawURLEncoding.EncodeToString(challenge)

	t.Run("valid", func(t *testing.T) {
		parsed, err := ParseClientDataJSON([]byte(`{"type":"webauthn.get","challenge":"` + encoded + `","origin":"https://example.com"}`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if parsed.Type != CeremonyGet {
			t.Errorf("type = %q", parsed.Type)
		}
		if !bytes.Equal(parsed.Challenge, challenge) {
			t.Errorf("challenge = %q", parsed.Challenge)
		}
		if parsed.IsCrossOrigin() {
			t.Error("absent crossOrigin should read false")
		}
	})

	t.Run("cross origin", func(t *testing.T) {
		parsed, err := ParseClientDataJSON([]byte(`{"type":"webauthn.create","challenge":"` + encoded + `","origin":"https://example.com","crossOrigin":true}`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if !parsed.IsCrossOrigin() {
			t.Error("crossOrigin true not surfaced")
		}
	})

	t.Run("invalid", func(t *testing.T) {
		cases := []string{
			`{`,
			`{"type":"","challenge":"` + encoded + `","origin":"https://example.com"}`,
			`{"type":"webauthn.get","challenge":"` + encoded + `","origin":""}`,
			`{"type":"webauthn.get","challenge":"!!!","origin":"https://example.com"}`,
		}
		for _, body := range cases {
			if _, err := ParseClientDataJSON([]byte(body)); err == nil {
				t.Errorf("parse of %s should fail", body)
			}
		}
	})
}

func TestVerifyAssertionSignature(t *testing.T) {
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	publicKey := append([]byte{0x04}, private.PublicKey.X.FillBytes(make([]byte, 32))...)
	publicKey = append(publicKey, private.PublicKey.Y.FillBytes(make([]byte, 32))...)

	authData := buildAuthData(t, "example.com", flagUserPresent|flagUserVerified, 3, nil, nil)
	clientDataJSON := []byte(`{"type":"webauthn.get","challenge":"AAAA","origin":"https://example.com"}`)

	clientDataHash := sha256.Sum256(clientDataJSON)
	digest := sha256.Sum256(append(append([]byte{}, authData...), clientDataHash[:]...))
	signature, err := ecdsa.SignASN1(rand.Reader, private, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	valid, err := VerifyAssertionSignature(AlgorithmES256, publicKey, authData, clientDataJSON, signature)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid {
		t.Error("valid signature rejected")
	}

	tampered := append([]byte{}, clientDataJSON...)
	tampered[len(tampered)-2] = 'x'
	valid, err = VerifyAssertionSignature(AlgorithmES256, publicKey, authData, tampered, signature)
	if err != nil {
		t.Fatalf("verify tampered: %v", err)
	}
	if valid {
		t.Error("tampered client data accepted")
	}

	if _, err := VerifyAssertionSignature(-8, publicKey, authData, clientDataJSON, signature); err == nil {
		t.Error("unknown algorithm should error")
	}

	if _, err := VerifyAssertionSignature(AlgorithmES256, publicKey[:10], authData, clientDataJSON, signature); err == nil {
		t.Error("truncated key should error")
	}
}
