package webauthn

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"math/big"
)

// VerifyAssertionSignature checks an authentication assertion against a
// stored credential public key. The signed message is the raw authenticator
// data concatenated with the SHA-256 hash of the client data JSON.
//
// ES256 keys are stored as uncompressed SEC1 points, RS256 keys as PKCS#1
// DER. Any other algorithm is rejected.
func VerifyAssertionSignature(algorithm int32, publicKey, authenticatorData, clientDataJSON, signature []byte) (bool, error) {
	clientDataHash := sha256.Sum256(clientDataJSON)
	message := make([]byte, 0, len(authenticatorData)+len(clientDataHash))
	message = append(message, authenticatorData...)
	message = append(message, clientDataHash[:]...)
	digest := sha256.Sum256(message)

	switch algorithm {
	case AlgorithmES256:
		key, err := parseSEC1P256(publicKey)
		if err != nil {
			return false, err
		}
		return ecdsa.VerifyASN1(key, digest[:], signature), nil
	case AlgorithmRS256:
		key, err := x509.ParsePKCS1PublicKey(publicKey)
		if err != nil {
			return false, ErrInvalidData
		}
		err = rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature)
		return err == nil, nil
	default:
		return false, ErrUnsupportedAlgorithm
	}
}

func parseSEC1P256(encoded []byte) (*ecdsa.PublicKey, error) {
	if len(encoded) != 65 || encoded[0] != 0x04 {
		return nil, ErrInvalidData
	}
	x := new(big.Int).SetBytes(encoded[1:33])
	y := new(big.Int).SetBytes(encoded[33:])
	curve := elliptic.P256()
	if !curve.IsOnCurve(x, y) {
		return nil, ErrInvalidData
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
