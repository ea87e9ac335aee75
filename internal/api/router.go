/**
 * @description
 * This file sets up the HTTP router for the reconciliation service. Webhooks are public
 * and authenticated by provider signatures; transfer routes need a Clerk bearer token;
 * payout routes additionally need an admin subject.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the browser-facing transfer routes.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the settings the router needs.
type RouterConfig struct {
	Auth               AuthConfig
	AdminUserIDs       []string
	CORSAllowedOrigins []string
}

// NewRouter creates and returns the service router.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Post("/webhooks/{provider}", h.WebhookHandler)

	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	authenticate := ClerkAuthMiddleware(cfg.Auth)

	r.Route("/transfers", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(authenticate)

		r.Get("/", h.ListTransactionsHandler)
		r.Post("/stripe", h.CreateStripePaymentHandler)
		r.Post("/paypal/orders", h.CreatePayPalOrderHandler)
		r.Post("/paypal/orders/{orderID}/capture", h.CapturePayPalOrderHandler)
		r.Post("/btcpay/invoices", h.CreateBTCPayInvoiceHandler)
		r.Post("/coinbase/charges", h.CreateCoinbaseChargeHandler)
		r.Post("/authorize-net/charges", h.ChargeAuthorizeNetHandler)
	})

	r.Route("/admin/payouts", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(RequireAdmin(cfg.AdminUserIDs))

		r.Post("/", h.RequestPayoutHandler)
		r.Get("/float", h.PayoutFloatHandler)
		r.Post("/refills", h.RefillPayoutBalanceHandler)
		r.Post("/{id}/approve", h.ApprovePayoutHandler)
		r.Post("/{id}/reject", h.RejectPayoutHandler)
		r.Post("/{id}/execute", h.ExecutePayoutHandler)
	})

	return r
}
