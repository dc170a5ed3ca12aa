package capi

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Hash trims and lowercases value and returns its hex SHA-256. It reports
// false for blank input, which callers drop instead of hashing.
func Hash(value string) (string, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", false
	}
	v = cases.Lower(language.Und).String(v)
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:]), true
}

// IsHashed reports whether value already is a 64-character hex digest.
func IsHashed(value string) bool {
	if len(value) != 64 {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}
