package tracking

import (
	"context"
	"net/http"
	"strings"

	"github.com/worldbrain/capi-gateway/internal/attribution"
	"github.com/worldbrain/capi-gateway/internal/capi"
)

type ctxKey struct{}

// WithResult stores the attribution result resolved for the request.
func WithResult(ctx context.Context, res *attribution.Result) context.Context {
	return context.WithValue(ctx, ctxKey{}, res)
}

// ResultFromContext returns the attribution result stored by PageViews.
func ResultFromContext(ctx context.Context) (*attribution.Result, bool) {
	res, ok := ctx.Value(ctxKey{}).(*attribution.Result)
	return res, ok && res != nil
}

func requestContext(r *http.Request, res *attribution.Result) capi.RequestContext {
	rc := capi.RequestContext{
		SourceURL:  requestURL(r),
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Cookies:    make(map[string]string, 2),
	}
	for _, name := range []string{attribution.CookieClickID, attribution.CookiePixelID} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			rc.Cookies[name] = c.Value
		}
	}
	if res != nil {
		rc.Attribution = res
	}
	return rc
}

// requestURL rebuilds the absolute URL the visitor requested, honoring the
// proxy's X-Forwarded-Proto.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
