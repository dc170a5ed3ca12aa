package attribution

import (
	"net/http"
	"strings"
	"time"
)

// ParamBuilder resolves attribution identifiers for an inbound request and
// tells the caller which first-party cookies to (re)issue.
type ParamBuilder struct {
	domains []string
	now     func() time.Time
}

// NewParamBuilder creates a builder. domains are the registrable domains the
// site is served from; cookies are scoped to the one matching the request host
// and are host-only otherwise (e.g. localhost).
func NewParamBuilder(domains []string) *ParamBuilder {
	cleaned := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.Trim(strings.TrimSpace(d), "."))
		if d != "" {
			cleaned = append(cleaned, d)
		}
	}
	return &ParamBuilder{domains: cleaned, now: time.Now}
}

// Result holds the identifiers resolved for one request. It satisfies the
// forwarder's enrichment capability.
type Result struct {
	Fbc      string
	Fbp      string
	IP       string
	Cookies  []*http.Cookie
	Referrer string
}

// ClickID returns the _fbc value when one was resolved.
func (r *Result) ClickID() (string, bool) {
	if r == nil || r.Fbc == "" {
		return "", false
	}
	return r.Fbc, true
}

// PixelID returns the _fbp value when one was resolved.
func (r *Result) PixelID() (string, bool) {
	if r == nil || r.Fbp == "" {
		return "", false
	}
	return r.Fbp, true
}

// ClientIP returns the visitor IP when one was resolved.
func (r *Result) ClientIP() (string, bool) {
	if r == nil || r.IP == "" {
		return "", false
	}
	return r.IP, true
}

// ProcessRequest resolves _fbc, _fbp and the client IP for r.
//
// A fbclid in the URL (or, failing that, in the referrer) produces a fresh
// _fbc unless the existing cookie already carries the same click. A missing
// or malformed _fbp is minted. A private or loopback server-side IP is
// replaced by the client-reported _fbi cookie when that one is public.
func (b *ParamBuilder) ProcessRequest(r *http.Request) *Result {
	now := b.now()
	domain := b.cookieDomain(r.Host)
	res := &Result{Referrer: r.Referer()}

	existingFbc := cookieValue(r, CookieClickID)
	fbclid := strings.TrimSpace(r.URL.Query().Get(ClickIDParam))
	if fbclid == "" {
		fbclid = ClickIDFromURL(res.Referrer)
	}
	switch {
	case fbclid != "" && ClickIDPayload(existingFbc) == fbclid:
		res.Fbc = existingFbc
	case fbclid != "":
		res.Fbc = FormatClickID(fbclid, now)
		res.Cookies = append(res.Cookies, newCookie(CookieClickID, res.Fbc, domain))
	case ValidClickID(existingFbc):
		res.Fbc = existingFbc
	}

	if existingFbp := cookieValue(r, CookiePixelID); ValidPixelID(existingFbp) {
		res.Fbp = existingFbp
	} else {
		res.Fbp = NewPixelID(now)
		res.Cookies = append(res.Cookies, newCookie(CookiePixelID, res.Fbp, domain))
	}

	res.IP = ResolveClientIP(r)
	if !IsPublicIP(res.IP) {
		if reported := cookieValue(r, CookieClientIP); IsPublicIP(reported) {
			res.IP = reported
		}
	}
	return res
}

func (b *ParamBuilder) cookieDomain(host string) string {
	host = strings.ToLower(StripPort(host))
	for _, d := range b.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			if d == "localhost" {
				return ""
			}
			return d
		}
	}
	return ""
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// newCookie builds a first-party identifier cookie. It is readable from
// JavaScript so the browser pixel can pick it up.
func newCookie(name, value, domain string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   domain,
		MaxAge:   int(CookieMaxAge / time.Second),
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	}
}
