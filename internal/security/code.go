package security

import (
	"crypto/rand"
	"math/big"
)

const (
	codeMin = 100000
	codeMax = 999999
)

// GenerateVerificationCode returns a uniform random 6-digit code in
// [100000, 999999]. crypto/rand because these codes gate account access.
func GenerateVerificationCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))

	if err != nil {
		return 0, err
	}

	return codeMin + int(n.Int64()), nil
}
