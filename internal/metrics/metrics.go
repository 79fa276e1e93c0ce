package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Метрики Prometheus для очереди категоризации и жизненных циклов
var (
	QueueItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "categorization_queue_items_total",
			Help: "Categorization attempts by outcome (completed, retry, failed, skipped)",
		},
		[]string{"outcome"},
	)

	ClassificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classification_duration_seconds",
			Help:    "Duration of AI classification calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ClassificationTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classification_tokens_total",
			Help: "Tokens consumed by AI classification",
		},
		[]string{"provider"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "categorization_queue_depth",
			Help: "Queue items per status, sampled after each drain",
		},
		[]string{"status"},
	)

	BidTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bid_transitions_total",
			Help: "Bid status transitions by resulting status",
		},
		[]string{"status"},
	)

	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status transitions by resulting status",
		},
		[]string{"status"},
	)

	OrdersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders created from accepted bids",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// Register регистрирует все метрики в глобальном реестре
func Register() {
	prometheus.MustRegister(QueueItemsTotal)
	prometheus.MustRegister(ClassificationDuration)
	prometheus.MustRegister(ClassificationTokensTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(BidTransitionsTotal)
	prometheus.MustRegister(OrderTransitionsTotal)
	prometheus.MustRegister(OrdersCreatedTotal)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
}

// Instrument middleware для chi; метка route - шаблон маршрута, а не сырой путь
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}
