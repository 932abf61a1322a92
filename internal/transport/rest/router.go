package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/jfcalderon/rodarpay/internal/notifier"
	"github.com/jfcalderon/rodarpay/internal/settlement"
	"github.com/jfcalderon/rodarpay/internal/transport/middleware"
	"github.com/jfcalderon/rodarpay/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, webhookHandler *settlement.WebhookHandler, paymentHandler *settlement.Handler, broker *notifier.Broker, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Payment routes. Request/response logging stays off the event
		// stream so it cannot buffer the SSE body.
		r.Group(func(pr chi.Router) {
			pr.Use(middleware.LoggingMiddleware(logger))

			if webhookHandler != nil {
				pr.Post("/payments/webhook", webhookHandler.HandleGatewayEvent)
			}
			if paymentHandler != nil {
				pr.Post("/payments/intent", paymentHandler.CreateIntent)
			}
		})

		if broker != nil {
			r.Get("/events/stream", broker.ServeHTTP)
		}
	})
}
