// Package attribution derives the ad-platform attribution identifiers for a
// visitor: the click id (_fbc), the browser pixel id (_fbp) and the client IP
// (_fbi). The server middleware and the client collector share the formats
// defined here.
package attribution

import (
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cookie names used for durable identifiers.
const (
	CookieClickID  = "_fbc"
	CookiePixelID  = "_fbp"
	CookieClientIP = "_fbi"
)

// ClickIDParam is the query parameter the ad platform appends to outbound clicks.
const ClickIDParam = "fbclid"

// CookieMaxAge is how long identifier cookies live (platform convention).
const CookieMaxAge = 90 * 24 * time.Hour

// subdomainIndex is the cookie-domain depth encoded in identifiers: "example.com" is 1.
const subdomainIndex = 1

// FormatClickID builds an _fbc value: fb.<subdomainIndex>.<creation ms>.<fbclid>.
func FormatClickID(fbclid string, created time.Time) string {
	return fmt.Sprintf("fb.%d.%d.%s", subdomainIndex, created.UnixMilli(), fbclid)
}

// NewPixelID mints an _fbp value: fb.<subdomainIndex>.<creation ms>.<random>.
func NewPixelID(created time.Time) string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:8])
	random := n.Mod(n, big.NewInt(10_000_000_000)).Int64()
	return fmt.Sprintf("fb.%d.%d.%d", subdomainIndex, created.UnixMilli(), random)
}

// splitIdentifier returns the four dot-separated parts of an identifier, or nil
// if v is not shaped like fb.<n>.<ms>.<payload>.
func splitIdentifier(v string) []string {
	parts := strings.SplitN(v, ".", 4)
	if len(parts) != 4 || parts[0] != "fb" || parts[3] == "" {
		return nil
	}
	if _, err := strconv.Atoi(parts[1]); err != nil {
		return nil
	}
	if _, err := strconv.ParseInt(parts[2], 10, 64); err != nil {
		return nil
	}
	return parts
}

// ValidClickID reports whether v is a well-formed _fbc value.
func ValidClickID(v string) bool {
	return splitIdentifier(v) != nil
}

// ValidPixelID reports whether v is a well-formed _fbp value.
func ValidPixelID(v string) bool {
	parts := splitIdentifier(v)
	if parts == nil {
		return false
	}
	_, err := strconv.ParseUint(parts[3], 10, 64)
	return err == nil
}

// ClickIDPayload returns the fbclid embedded in an _fbc value, or "".
func ClickIDPayload(fbc string) string {
	parts := splitIdentifier(fbc)
	if parts == nil {
		return ""
	}
	return parts[3]
}

// ClickIDFromURL extracts the fbclid query parameter from a raw URL.
func ClickIDFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Query().Get(ClickIDParam))
}
