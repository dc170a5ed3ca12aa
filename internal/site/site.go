// Package site serves the marketing site: legacy-URL redirects, static
// files, extensionless page routes and the index fallback.
package site

import (
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
)

const indexPage = "index.html"

type Handler struct {
	fsys      fs.FS
	redirects map[string]string
	pageMW    []func(http.Handler) http.Handler
}

// New creates a site handler over fsys. redirects maps legacy paths to
// their new location and answers with 301. pageMiddleware wraps file
// serving only, so redirected requests never reach it.
func New(fsys fs.FS, redirects map[string]string, pageMiddleware ...func(http.Handler) http.Handler) *Handler {
	return &Handler{fsys: fsys, redirects: redirects, pageMW: pageMiddleware}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	for from, to := range h.redirects {
		r.Get(from, permanentRedirect(to))
	}
	r.Group(func(g chi.Router) {
		g.Use(h.pageMW...)
		g.Get("/*", h.serve)
	})
	return r
}

func permanentRedirect(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	}
}

// serve resolves the request to a file: the exact file, a directory's
// index, the page's .html file, and finally the site index.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")

	candidates := []string{indexPage}
	if name != "" && name != "." {
		candidates = []string{name, path.Join(name, indexPage)}
		if path.Ext(name) == "" {
			candidates = append(candidates, name+".html")
		}
		candidates = append(candidates, indexPage)
	}

	for _, c := range candidates {
		if h.isFile(c) {
			http.ServeFileFS(w, r, h.fsys, c)
			return
		}
	}
	http.NotFound(w, r)
}

func (h *Handler) isFile(name string) bool {
	info, err := fs.Stat(h.fsys, name)
	return err == nil && !info.IsDir()
}
