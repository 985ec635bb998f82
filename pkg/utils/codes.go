package utils

import (
	"crypto/rand"
	"encoding/base32"
	"io"
	"math/big"
)

var recoveryCodeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateNumericCode returns a random code of the given number of decimal
// digits, left-padded with zeros. Used for email verification and password
// reset codes.
func GenerateNumericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	code := n.String()
	for len(code) < digits {
		code = "0" + code
	}
	return code, nil
}

// GenerateRecoveryCode returns a 16-character base32 recovery code from 10
// random bytes.
func GenerateRecoveryCode() (string, error) {
	raw := make([]byte, 10)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return recoveryCodeEncoding.EncodeToString(raw), nil
}
