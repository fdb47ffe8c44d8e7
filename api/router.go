package api

import (
	"net/http"

	"github.com/bigtreetc/tokenauth"
	"github.com/bigtreetc/tokenauth/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Options configures [NewRouter].
type Options struct {
	Logger       zerolog.Logger
	MaxBodyBytes int64
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	// Routes mounts application endpoints behind the same chain.
	Routes func(r chi.Router)
}

// DefaultChain returns the middleware applied to every route, outermost first.
func DefaultChain(engine *tokenauth.Engine, opts Options) []middleware.Named {
	permit := middleware.PermitList(engine.Config().PermittedPaths)

	return []middleware.Named{
		{Name: "request_id", Handler: middleware.RequestID},
		{Name: "request_log", Handler: middleware.RequestLog(opts.Logger)},
		{Name: "recover", Handler: middleware.Recover(opts.Logger)},
		{Name: "body_limit", Handler: middleware.BodyLimit(opts.MaxBodyBytes)},
		{Name: "verify_access_token", Handler: middleware.Verify(engine, permit, opts.Logger)},
		{Name: "require_authenticated", Handler: middleware.RequireAuthenticated(permit)},
	}
}

// NewRouter builds the HTTP surface of the authentication service.
func NewRouter(engine *tokenauth.Engine, opts Options) http.Handler {
	h := &handler{
		engine: engine,
		config: engine.Config(),
		logger: opts.Logger.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Handlers(DefaultChain(engine, opts))...)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)
		r.Get("/me", h.me)
	})

	if opts.Routes != nil {
		r.Group(opts.Routes)
	}

	return r
}
