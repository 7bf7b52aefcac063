package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/7Emma/e-shop-backend/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware интернет-магазина.
func (h *Handler) SetupRouter(adminAuth *custommiddleware.AdminAuth) *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.RequestLogger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/payment", func(r chi.Router) {
			r.Post("/checkout", h.CreateCheckout)
			r.Post("/webhook", h.Webhook)
			r.Get("/status/{sessionID}", h.PaymentStatus)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/session/{sessionID}", h.OrderBySession)

			r.Route("/track/{trackingCode}", func(r chi.Router) {
				r.Get("/", h.TrackOrder)
				r.Put("/confirm-received", h.ConfirmReceived)
				r.Put("/rate", h.RateOrder)
			})

			r.Group(func(r chi.Router) {
				r.Use(adminAuth.Middleware)

				r.Get("/admin/all", h.AdminOrders)
				r.Put("/{orderID}/status", h.AdminUpdateOrder)
			})
		})

		r.Route("/otp", func(r chi.Router) {
			r.Post("/generate", h.GenerateOTP)
			r.Post("/verify", h.VerifyOTP)
			r.Post("/check", h.CheckOTP)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.respondError(w, http.StatusNotFound, "Ressource introuvable")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.respondError(w, http.StatusMethodNotAllowed, "Méthode non autorisée")
	})

	return r
}
