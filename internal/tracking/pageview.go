package tracking

import (
	"net/http"
	"path"
	"strings"
)

// EventPageView is the event reported for every served page.
const EventPageView = "PageView"

// PageViews runs the attribution builder on page requests, issues the
// identifier cookies it asks for and reports a server-side PageView in the
// background. The resolved identifiers are stored in the request context.
// Asset requests pass through untouched.
func (h *Handler) PageViews(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isPageRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		res := h.params.ProcessRequest(r)
		for _, c := range res.Cookies {
			http.SetCookie(w, c)
		}
		h.fwd.Dispatch(EventPageView, requestContext(r, res), nil, "")

		next.ServeHTTP(w, r.WithContext(WithResult(r.Context(), res)))
	})
}

// isPageRequest reports whether r fetches an HTML page: a GET for a path
// with no extension or an .html one.
func isPageRequest(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return false
	}
	switch strings.ToLower(path.Ext(r.URL.Path)) {
	case "", ".html", ".htm":
		return true
	}
	return false
}
