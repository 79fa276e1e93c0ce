package handlers

import (
	"net/http"

	"orderbroker/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter собирает маршруты API
func NewRouter(h *Handler, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", HeaderUserID, HeaderUserRole},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)
		r.Get("/categories", h.CategoriesHandler)

		r.Group(func(r chi.Router) {
			r.Use(h.ActorMiddleware)

			// заявки
			r.Post("/requests", h.CreateRequestHandler)
			r.Get("/requests", h.ListRequestsHandler)
			r.Get("/requests/my", h.MyRequestsHandler)
			r.Get("/requests/{requestId}", h.GetRequestHandler)
			r.Post("/requests/{requestId}/cancel", h.CancelRequestHandler)
			r.Put("/requests/{requestId}/category", h.SetCategoryHandler)
			r.Get("/requests/{requestId}/classification", h.ClassificationHistoryHandler)
			r.Get("/requests/{requestId}/bids", h.RequestBidsHandler)
			r.Post("/requests/{requestId}/bids", h.SubmitBidHandler)

			// предложения (bids)
			r.Get("/bids/my", h.MyBidsHandler)
			r.Get("/bids/{bidId}", h.GetBidHandler)
			r.Post("/bids/{bidId}/accept", h.AcceptBidHandler)
			r.Post("/bids/{bidId}/reject", h.RejectBidHandler)
			r.Post("/bids/{bidId}/cancel", h.CancelBidHandler)

			// заказы
			r.Get("/orders/my", h.MyOrdersHandler)
			r.Get("/orders/earnings", h.EarningsHandler)
			r.Get("/orders/{orderId}", h.GetOrderHandler)
			r.Put("/orders/{orderId}/status", h.UpdateOrderStatusHandler)
			r.Post("/orders/{orderId}/updates", h.AddOrderUpdateHandler)
			r.Post("/orders/{orderId}/confirm-delivery", h.ConfirmDeliveryHandler)
			r.Post("/orders/{orderId}/complete", h.CompleteOrderHandler)
			r.Post("/orders/{orderId}/cancel", h.CancelOrderHandler)
			r.Post("/orders/{orderId}/dispute", h.DisputeOrderHandler)

			r.Route("/admin/queue", func(r chi.Router) {
				r.Use(h.RequireAdmin)
				r.Get("/stats", h.QueueStatsHandler)
				r.Get("/items", h.QueueItemsHandler)
				r.Post("/", h.EnqueueHandler)
				r.Post("/{itemId}/cancel", h.CancelQueueItemHandler)
				r.Post("/retry-failed", h.RetryFailedHandler)
				r.Post("/drain", h.DrainHandler)
			})
		})
	})
	return r
}
