// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"encoding/hex"
	"strings"
)

// RandomHex returns n cryptographically secure random bytes, hex-encoded.
// The returned string has length 2*n.
func RandomHex(n int) (string, error) {
	b, err := GenerateSecureRandom(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// UpperHexCode returns n random bytes rendered as uppercase hex, suitable
// for bearer codes such as cash-out withdrawal codes.
func UpperHexCode(n int) (string, error) {
	s, err := RandomHex(n)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(s), nil
}
