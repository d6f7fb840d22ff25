package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/echobeats-checkout/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	if h.opts.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)
	if h.opts.DomainVerifier != nil {
		r.Use(h.opts.DomainVerifier.Middleware)
	}

	r.Route("/api", func(r chi.Router) {
		// Подпись вебхука считается по сырому телу, поэтому gzip сюда не подключается.
		r.With(custommiddleware.RawBody(custommiddleware.DefaultRawBodyLimit)).Post("/webhook", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)

			r.Get("/health", h.Health)
			r.Get("/stripe/config", h.StripeConfig)

			r.Group(func(r chi.Router) {
				r.Use(h.limit)

				r.Post("/subscribe", h.Subscribe)
				r.Post("/create-payment-intent", h.CreatePaymentIntent)
				r.Post("/stripe/verify-domain", h.VerifyDomain)
			})

			r.With(h.orderAuth.Middleware).Get("/orders/{id}", h.GetOrder)
		})
	})

	if h.opts.StaticDir != "" {
		r.Handle("/*", custommiddleware.GzipMiddleware(http.FileServer(http.Dir(h.opts.StaticDir))))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
