package tracking

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes builds the gateway's top-level mux: health, the CORS-guarded
// /api surface and, when site is non-nil, the site for everything else.
func SetupRoutes(h *Handler, site http.Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", h.HandleHealth)

	r.Route("/api", func(api chi.Router) {
		if len(allowedOrigins) > 0 {
			api.Use(cors.Handler(cors.Options{
				AllowedOrigins:   allowedOrigins,
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Content-Type"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
		}
		api.Mount("/", h.Routes())
	})

	if site != nil {
		r.Mount("/", site)
	}
	return r
}
