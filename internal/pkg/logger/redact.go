package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return RedactValue(email)
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactValue keeps the last two characters of a value: "5512345678" → "***78".
// Values that are already SHA-256 digests are left alone.
func RedactValue(val string) string {
	if len(val) == 64 && isHex(val) {
		return val
	}
	if len(val) <= 2 {
		return "***"
	}
	return "***" + val[len(val)-2:]
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
