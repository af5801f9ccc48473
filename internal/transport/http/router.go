package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-verify-ledger/internal/config"
	"github.com/go-verify-ledger/internal/domain"
	"github.com/go-verify-ledger/internal/transport/http/handler"
	appmiddleware "github.com/go-verify-ledger/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router. ctx bounds the
// background work of the rate limiter.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}

	// 5 requests/second per client IP, burst of 10. /verify is throttled per
	// requester by the verification service since every call comes from the gateway.
	sensitiveRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(5), 10, deps.TrustedProxies...)

	healthH := handler.NewHealthHandler()
	verifyH := handler.NewVerifyHandler(deps.Verification)
	submissionH := handler.NewSubmissionHandler(deps.Ledger)
	ledgerH := handler.NewLedgerHandler(deps.Ledger, deps.Scanner)

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.With(appmiddleware.RequireRole(domain.RoleGateway, domain.RoleAdmin)).
				Post("/verify", verifyH.Redeem)
			r.With(appmiddleware.RequireRole(domain.RolePipeline, domain.RoleAdmin), sensitiveRL.Limit).
				Post("/submissions", submissionH.Create)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Get("/ledger", ledgerH.List)
				r.Post("/delivery/scan", ledgerH.Scan)
			})
		})
	})

	return r
}
