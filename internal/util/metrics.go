package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	PurchasesBookedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchases_booked_total",
		Help: "Total number of scheduled purchases booked",
	})

	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_sessions_created_total",
		Help: "Total number of gateway payment sessions created",
	})

	SessionsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_sessions_failed_total",
		Help: "Total number of gateway session creations that failed",
	})

	CapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_captures_total",
		Help: "Total number of capture requests by outcome",
	}, []string{"outcome"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
