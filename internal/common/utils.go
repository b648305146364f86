package common

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// MakeRandHexString generates a random hexadecimal string of the given size.
// The size parameter specifies the number of random bytes, so the resulting
// string is twice as long.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NormalizeSubjectID trims surrounding whitespace and case-folds a subject
// identifier so that "Alice@Example.com " and "alice@example.com" address the
// same permission rows.
func NormalizeSubjectID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
