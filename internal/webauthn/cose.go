package webauthn

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// COSE algorithm identifiers (RFC 9053).
const (
	AlgorithmES256 int32 = -7
	AlgorithmRS256 int32 = -257
)

const (
	coseKeyTypeEC2 = 2
	coseKeyTypeRSA = 3

	coseCurveP256 = 1
)

var ErrUnsupportedAlgorithm = errors.New("webauthn: unsupported algorithm")

// rawCOSEKey holds the integer-keyed COSE map. The meaning of the negative
// labels depends on the key type, so they are decoded in a second stage.
type rawCOSEKey struct {
	KeyType   int64           `cbor:"1,keyasint"`
	Algorithm int64           `cbor:"3,keyasint"`
	Label1    cbor.RawMessage `cbor:"-1,keyasint,omitempty"`
	Label2    cbor.RawMessage `cbor:"-2,keyasint,omitempty"`
	Label3    cbor.RawMessage `cbor:"-3,keyasint,omitempty"`
}

// COSEPublicKey is a credential public key as delivered by the
// authenticator, decodable into the storage encodings used by the verifiers.
type COSEPublicKey struct {
	raw rawCOSEKey
}

func (k *COSEPublicKey) Algorithm() int32 {
	return int32(k.raw.Algorithm)
}

// ECDSAP256 re-encodes an ES256 key as an uncompressed SEC1 point.
// Fails on any other key type or curve.
func (k *COSEPublicKey) ECDSAP256() ([]byte, error) {
	if k.raw.KeyType != coseKeyTypeEC2 {
		return nil, ErrInvalidData
	}

	var curve int64
	if err := cbor.Unmarshal(k.raw.Label1, &curve); err != nil {
		return nil, ErrInvalidData
	}
	if curve != coseCurveP256 {
		return nil, ErrUnsupportedAlgorithm
	}

	var x, y []byte
	if err := cbor.Unmarshal(k.raw.Label2, &x); err != nil {
		return nil, ErrInvalidData
	}
	if err := cbor.Unmarshal(k.raw.Label3, &y); err != nil {
		return nil, ErrInvalidData
	}
	if len(x) != 32 || len(y) != 32 {
		return nil, ErrInvalidData
	}

	encoded := make([]byte, 0, 65)
	encoded = append(encoded, 0x04)
	encoded = append(encoded, x...)
	encoded = append(encoded, y...)
	return encoded, nil
}

// RSA re-encodes an RS256 key as a PKCS#1 DER public key.
func (k *COSEPublicKey) RSA() ([]byte, error) {
	if k.raw.KeyType != coseKeyTypeRSA {
		return nil, ErrInvalidData
	}

	var n, e []byte
	if err := cbor.Unmarshal(k.raw.Label1, &n); err != nil {
		return nil, ErrInvalidData
	}
	if err := cbor.Unmarshal(k.raw.Label2, &e); err != nil {
		return nil, ErrInvalidData
	}
	if len(n) == 0 || len(e) == 0 || len(e) > 8 {
		return nil, ErrInvalidData
	}

	exponent := new(big.Int).SetBytes(e)
	if !exponent.IsInt64() || exponent.Int64() <= 1 {
		return nil, ErrInvalidData
	}

	publicKey := &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(exponent.Int64()),
	}
	return x509.MarshalPKCS1PublicKey(publicKey), nil
}
