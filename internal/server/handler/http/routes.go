package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/DocKeeper/internal/middleware"
)

// NewRouter constructs the HTTP handler of the DocKeeper API.
//
// Routes:
//
//	GET  /healthz               → health
//	POST /auth/token            → authHandler.Issue
//	POST /auth/verify           → authHandler.Verify
//	POST /generate-token        → authHandler.Issue (alias)
//	POST /verify-token          → authHandler.Verify (alias)
//	*    /{resource}/...        → one RecordHandler per collection
//
// Middleware chain (applied in order):
//  1. AllowContentType("application/json") rejects non-JSON bodies;
//     requests without a body pass
//  2. WithRequestLogging(logger) logs each request
func NewRouter(
	authHandler *AuthHandler,
	health http.Handler,
	records []*RecordHandler,
	logger *zap.Logger,
) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))

	r.Method(http.MethodGet, "/healthz", health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/token", authHandler.Issue)
		r.Post("/verify", authHandler.Verify)
	})
	r.Post("/generate-token", authHandler.Issue)
	r.Post("/verify-token", authHandler.Verify)

	for _, h := range records {
		r.Route("/"+h.Resource, h.Routes)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})

	return r
}
