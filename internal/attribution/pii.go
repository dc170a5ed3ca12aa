package attribution

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrUnsupportedField is returned for PII keys without a normalization rule.
var ErrUnsupportedField = errors.New("attribution: unsupported PII field")

// PIINormalizer applies the ad platform's per-field normalization rules
// before hashing. Callers fall back to a plain trim+lowercase hash when it
// returns an error.
type PIINormalizer struct {
	// DefaultCountryCode is prepended to national phone numbers, e.g. "52".
	DefaultCountryCode string
}

// NormalizeAndHash normalizes value according to field (a user_data key
// such as "em" or "ph") and returns its hex SHA-256.
func (p PIINormalizer) NormalizeAndHash(field, value string) (string, error) {
	normalized, err := p.Normalize(field, value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

// Normalize returns the canonical plaintext form of value for field.
func (p PIINormalizer) Normalize(field, value string) (string, error) {
	var out string
	switch field {
	case "em":
		out = normalizeEmail(value)
		if !strings.Contains(out, "@") {
			return "", fmt.Errorf("attribution: invalid email")
		}
	case "ph":
		out = p.normalizePhone(value)
	case "fn", "ln":
		out = normalizeName(value)
	case "ct", "st":
		out = lettersAndDigits(lower(value))
	case "zp":
		out = normalizeZip(value)
	case "country":
		out = normalizeCountry(value)
	case "ge":
		return normalizeGender(value)
	case "db":
		return normalizeBirthdate(value)
	case "external_id":
		out = strings.TrimSpace(value)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedField, field)
	}
	if out == "" {
		return "", fmt.Errorf("attribution: empty %s after normalization", field)
	}
	return out, nil
}

func lower(s string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(s))
}

func normalizeEmail(raw string) string {
	email := lower(raw)
	return strings.Trim(email, "\"'<>")
}

// normalizePhone keeps digits only and ensures a country code is present.
func (p PIINormalizer) normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	international := strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "00")

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(raw, "00") {
		digits = strings.TrimPrefix(digits, "00")
	}
	if digits == "" {
		return ""
	}
	if !international && p.DefaultCountryCode != "" && len(digits) <= 10 {
		digits = p.DefaultCountryCode + digits
	}
	return digits
}

func normalizeName(raw string) string {
	s := lower(raw)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func lettersAndDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeZip(raw string) string {
	z := lower(raw)
	// Float-parsed zip codes ("38824.0") and ZIP+4 ("38824-1234").
	if idx := strings.IndexAny(z, ".-"); idx > 0 {
		z = z[:idx]
	}
	return strings.ReplaceAll(z, " ", "")
}

func normalizeCountry(raw string) string {
	v := lower(raw)
	if len(v) == 2 {
		return v
	}
	switch v {
	case "mexico", "méxico", "mex":
		return "mx"
	case "united states", "usa", "united states of america", "estados unidos":
		return "us"
	case "united kingdom", "uk", "great britain":
		return "gb"
	case "canada", "canadá":
		return "ca"
	case "spain", "españa":
		return "es"
	default:
		return lettersAndDigits(v)
	}
}

func normalizeGender(raw string) (string, error) {
	switch lower(raw) {
	case "f", "female", "woman", "mujer", "femenino":
		return "f", nil
	case "m", "male", "man", "hombre", "masculino":
		return "m", nil
	}
	return "", fmt.Errorf("attribution: unrecognized gender")
}

var birthdateLayouts = []string{"2006-01-02", "20060102", "02/01/2006", "2006/01/02"}

func normalizeBirthdate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range birthdateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("20060102"), nil
		}
	}
	return "", fmt.Errorf("attribution: unrecognized birthdate format")
}
